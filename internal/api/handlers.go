package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/xhs-signer/internal/health"
	"github.com/shehryarbajwa/xhs-signer/internal/signer"
	"github.com/shehryarbajwa/xhs-signer/pkg/models"
)

const (
	version = "1.0.0"

	// upper bound on a /sign body
	maxBodyBytes = 1 << 20

	retryHint = "Signing can still fail occasionally even after retries, please try again"
)

// Signer produces signatures
type Signer interface {
	Sign(ctx context.Context, req signer.Request) (signer.Result, error)
}

// HealthReporter reports readiness without blocking
type HealthReporter interface {
	Report() health.Report
	A1() string
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	signer      Signer
	health      HealthReporter
	logger      *zap.Logger
	signTimeout time.Duration
}

// NewHandler creates a new HTTP handler. signTimeout bounds a /sign call
// including time spent queued; zero leaves it to the client.
func NewHandler(s Signer, h HealthReporter, logger *zap.Logger, signTimeout time.Duration) *Handler {
	return &Handler{
		signer:      s,
		health:      h,
		logger:      logger.Named("api"),
		signTimeout: signTimeout,
	}
}

// Sign handles POST /sign
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var req models.SignRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error: "Request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
			})
			return
		}
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		h.logger.Warn("Empty request body")
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "Request body is required"})
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}
	if req.URI == "" {
		h.logger.Warn("Missing uri parameter")
		writeError(w, http.StatusBadRequest, models.ErrorResponse{Error: "uri parameter is required"})
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	h.logger.Info("Sign request received",
		zap.String("request_id", requestID),
		zap.String("uri", req.URI),
		zap.Bool("has_data", hasData(req.Data)),
	)

	var data any
	if req.Data != nil {
		data = req.Data
	}

	ctx := r.Context()
	if h.signTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.signTimeout)
		defer cancel()
	}

	res, err := h.signer.Sign(ctx, signer.Request{
		ID:   requestID,
		URI:  req.URI,
		Data: data,
		Identity: signer.Identity{
			A1:         req.A1,
			WebSession: req.WebSession,
			WebID:      req.WebID,
		},
	})
	if err != nil {
		h.writeSignError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, models.SignResponse{
		XS: res.Signature,
		XT: strconv.FormatInt(res.Timestamp, 10),
	})
}

func (h *Handler) writeSignError(w http.ResponseWriter, requestID string, err error) {
	resp := models.ErrorResponse{
		Error:     err.Error(),
		ErrorType: "InternalError",
		Success:   false,
		Hint:      retryHint,
	}
	status := http.StatusInternalServerError

	var se *signer.SigningError
	if errors.As(err, &se) {
		resp.ErrorType = string(se.Code)
		resp.Kind = string(se.LastKind)
		if se.Code == signer.CodeNotReady {
			status = http.StatusServiceUnavailable
		}
	}

	h.logger.Error("❌ Sign request failed",
		zap.String("request_id", requestID),
		zap.String("error_type", resp.ErrorType),
		zap.String("kind", resp.Kind),
		zap.Error(err),
	)
	writeError(w, status, resp)
}

// Health handles GET /health. It always answers 200; readiness is in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rep := h.health.Report()
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:       rep.Status,
		BrowserReady: rep.BrowserReady,
		A1:           rep.A1,
		Timestamp:    rep.Timestamp,
		State:        string(rep.State),
		LastError:    string(rep.LastKind),
		Uptime:       rep.Uptime.Truncate(time.Second).String(),
	})
}

// A1 handles GET /a1
func (h *Handler) A1(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.A1Response{A1: h.health.A1()})
}

// WebA1 handles GET /web_a1
func (h *Handler) WebA1(w http.ResponseWriter, r *http.Request) {
	a1 := h.health.A1()
	h.logger.Info("✅ a1 forwarded", zap.String("a1", a1))
	writeJSON(w, http.StatusOK, models.WebA1Response{WebA1: a1})
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ServiceInfo{
		Service:     "XHS Signature Server",
		Description: "Xiaohongshu API signing service",
		Status:      "running",
		Version:     version,
		Endpoints: map[string]models.Endpoint{
			"health": {Path: "/health", Method: http.MethodGet, Description: "Health check"},
			"sign":   {Path: "/sign", Method: http.MethodPost, Description: "Generate a signature"},
			"a1":     {Path: "/a1", Method: http.MethodGet, Description: "Current browser a1 value"},
		},
	})
}

// NotFound answers unknown routes with the list of endpoints
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, models.NotFoundResponse{
		Error:              "Endpoint not found",
		AvailableEndpoints: []string{"/", "/health", "/sign", "/a1"},
	})
}

// MethodNotAllowed answers a known route called with the wrong method
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, models.ErrorResponse{
		Error: "Method " + r.Method + " not allowed on " + r.URL.Path,
	})
}

func hasData(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}" && s != "[]"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp models.ErrorResponse) {
	resp.Success = false
	writeJSON(w, status, resp)
}

// Package proxy relays a DevTools WebSocket between a client and the
// signing browser for debugging.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Target reports the DevTools endpoint of the current browser
type Target interface {
	DebuggerURL() string
}

type Server struct {
	target      Target
	logger      *zap.Logger
	dialTimeout time.Duration
}

func NewServer(target Target, logger *zap.Logger) *Server {
	return &Server{
		target:      target,
		logger:      logger.Named("proxy"),
		dialTimeout: 10 * time.Second,
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request) {
	browserURL := s.target.DebuggerURL()
	if browserURL == "" {
		http.Error(w, "No debugger endpoint available for the current browser", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer clientConn.Close()

	s.logger.Info("✅ Debug client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, browserURL, nil)
	if err != nil {
		s.logger.Error("❌ Failed to connect to browser", zap.String("url", browserURL), zap.Error(err))
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("Error connecting: %v", err)))
		return
	}
	defer browserConn.Close()

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.proxyMessages(clientConn, browserConn, "client→browser")
	}()

	go func() {
		errChan <- s.proxyMessages(browserConn, clientConn, "browser→client")
	}()

	// either direction closing ends the relay
	err = <-errChan
	if err != nil && !errors.Is(err, io.EOF) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		s.logger.Warn("Proxy error", zap.Error(err))
	}

	s.logger.Info("Debug client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket error", zap.String("direction", direction), zap.Error(err))
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			s.logger.Debug("Failed to write message", zap.String("direction", direction), zap.Error(err))
			return err
		}
	}
}

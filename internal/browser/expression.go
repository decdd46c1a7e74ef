package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

// presenceExpression reports whether the signing function is callable
func presenceExpression(fn string) string {
	name, _ := json.Marshal(fn)
	return fmt.Sprintf("typeof window[%s] === 'function'", name)
}

// buildExpression calls the signing function with the URI and payload
// embedded as JSON literals so neither can break out of the expression.
func buildExpression(fn, uri string, data any) (string, error) {
	name, err := json.Marshal(fn)
	if err != nil {
		return "", err
	}
	u, err := json.Marshal(uri)
	if err != nil {
		return "", err
	}
	d, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return fmt.Sprintf("window[%s](%s, %s)", name, u, d), nil
}

// parseResult extracts the signature and timestamp from the object the
// signing function returned. Both casings of each key are accepted and x-t
// may be a string or a number. A missing timestamp falls back to calledAt.
func parseResult(raw []byte, calledAt time.Time) (signer.Result, error) {
	if len(raw) == 0 {
		return signer.Result{}, errors.New("signing function returned nothing")
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return signer.Result{}, fmt.Errorf("signing function returned a non-object: %s", truncate(string(raw), 64))
	}

	sig := lookup(obj, "X-s", "x-s")
	s, ok := sig.(string)
	if !ok || s == "" {
		return signer.Result{}, errors.New("signing function result has no x-s")
	}

	ts, err := parseTimestamp(lookup(obj, "X-t", "x-t"))
	if err != nil {
		return signer.Result{}, err
	}
	if ts == 0 {
		ts = calledAt.Unix()
	}

	return signer.Result{Signature: s, Timestamp: ts}, nil
}

func lookup(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t), nil
	case string:
		if t == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid x-t %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid x-t of type %T", v)
	}
}

// classify maps a DevTools failure to a session error kind
func classify(err error, fallback signer.ErrorKind, pageDead, timedOut bool) signer.ErrorKind {
	var exc *runtime.ExceptionDetails
	switch {
	case errors.Is(err, errScriptMissing):
		return signer.KindScriptMissing
	case errors.As(err, &exc):
		return signer.KindEvaluationThrew
	case pageDead, errors.Is(err, chromedp.ErrInvalidContext):
		return signer.KindPageDead
	case timedOut, errors.Is(err, context.DeadlineExceeded):
		return signer.KindTimeout
	default:
		return fallback
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5005", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:5005", cfg.Server.Addr())
	assert.Equal(t, 10, cfg.Sign.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Sign.EvalTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sign.RetryBackoff)
	assert.Equal(t, time.Minute, cfg.Sign.RequestTimeout)
	assert.Equal(t, "_webmsxyw", cfg.Sign.Function)
	assert.Len(t, cfg.Script.URLs, 3)
	assert.Equal(t, 100, cfg.Script.MinBytes)
	assert.Equal(t, ModeLocal, cfg.Browser.Mode)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, time.Second, cfg.Browser.SettleDelay)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SIGN_MAX_ATTEMPTS", "3")
	t.Setenv("SIGN_EVAL_TIMEOUT", "2s")
	t.Setenv("SCRIPT_URLS", "http://a/s.js,http://b/s.js")
	t.Setenv("BROWSER_MODE", "remote")
	t.Setenv("BROWSER_REMOTE_URL", "ws://127.0.0.1:9222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Sign.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sign.EvalTimeout)
	assert.Equal(t, []string{"http://a/s.js", "http://b/s.js"}, cfg.Script.URLs)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.Browser.RemoteURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero attempts", map[string]string{"SIGN_MAX_ATTEMPTS": "0"}, "SIGN_MAX_ATTEMPTS"},
		{"zero eval timeout", map[string]string{"SIGN_EVAL_TIMEOUT": "0s"}, "SIGN_EVAL_TIMEOUT"},
		{"zero request timeout", map[string]string{"SIGN_REQUEST_TIMEOUT": "0s"}, "SIGN_REQUEST_TIMEOUT"},
		{"unknown mode", map[string]string{"BROWSER_MODE": "firefox"}, "unknown BROWSER_MODE"},
		{"remote without url", map[string]string{"BROWSER_MODE": "remote"}, "BROWSER_REMOTE_URL"},
		{"bad rate", map[string]string{"RATE_LIMIT_RPM": "0"}, "RATE_LIMIT_RPM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

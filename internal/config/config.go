package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Browser launch modes
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
	ModeDocker = "docker"
)

// Config holds all service configuration
type Config struct {
	Server    ServerConfig
	Sign      SignConfig
	Script    ScriptConfig
	Browser   BrowserConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Debug     DebugConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"5005"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// SignConfig controls the signing coordinator
type SignConfig struct {
	Origin       string        `envconfig:"SIGN_ORIGIN" default:"https://www.xiaohongshu.com"`
	CookieDomain string        `envconfig:"SIGN_COOKIE_DOMAIN" default:".xiaohongshu.com"`
	Function     string        `envconfig:"SIGN_FUNCTION" default:"_webmsxyw"`
	MaxAttempts  int           `envconfig:"SIGN_MAX_ATTEMPTS" default:"10"`
	EvalTimeout  time.Duration `envconfig:"SIGN_EVAL_TIMEOUT" default:"5s"`
	RetryBackoff time.Duration `envconfig:"SIGN_RETRY_BACKOFF" default:"500ms"`
	CheapRepairs int           `envconfig:"SIGN_CHEAP_REPAIRS" default:"2"`
	// RequestTimeout bounds one /sign call, queueing included
	RequestTimeout time.Duration `envconfig:"SIGN_REQUEST_TIMEOUT" default:"60s"`
}

// ScriptConfig controls where the init script is fetched from
type ScriptConfig struct {
	URLs         []string      `envconfig:"SCRIPT_URLS" default:"https://cdn.jsdelivr.net/gh/requireCool/stealth.min.js/stealth.min.js,https://fastly.jsdelivr.net/gh/requireCool/stealth.min.js/stealth.min.js,https://raw.githubusercontent.com/requireCool/stealth.min.js/main/stealth.min.js"`
	CachePath    string        `envconfig:"SCRIPT_CACHE_PATH" default:"stealth.min.js"`
	MinBytes     int           `envconfig:"SCRIPT_MIN_BYTES" default:"100"`
	FetchTimeout time.Duration `envconfig:"SCRIPT_FETCH_TIMEOUT" default:"30s"`
}

// BrowserConfig controls how the browser process is obtained
type BrowserConfig struct {
	Mode         string        `envconfig:"BROWSER_MODE" default:"local"`
	Headless     bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	ExecPath     string        `envconfig:"BROWSER_EXEC_PATH"`
	ExtraArgs    string        `envconfig:"BROWSER_EXTRA_ARGS"`
	RemoteURL    string        `envconfig:"BROWSER_REMOTE_URL"`
	DockerImage  string        `envconfig:"BROWSER_DOCKER_IMAGE" default:"browserless/chrome:latest"`
	NavTimeout   time.Duration `envconfig:"BROWSER_NAV_TIMEOUT" default:"30s"`
	SettleDelay  time.Duration `envconfig:"BROWSER_SETTLE_DELAY" default:"1s"`
	StartTimeout time.Duration `envconfig:"BROWSER_START_TIMEOUT" default:"2m"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-client rate limiting configuration for /sign
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `envconfig:"RATE_LIMIT_RPM" default:"120"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"20"`
}

// DebugConfig toggles the DevTools WebSocket proxy
type DebugConfig struct {
	ProxyEnabled bool `envconfig:"DEBUG_PROXY_ENABLED" default:"false"`
}

// Load reads configuration from the environment and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the coordinator cannot run with
func (c *Config) Validate() error {
	if c.Sign.MaxAttempts < 1 {
		return fmt.Errorf("SIGN_MAX_ATTEMPTS must be at least 1, got %d", c.Sign.MaxAttempts)
	}
	if c.Sign.EvalTimeout <= 0 {
		return fmt.Errorf("SIGN_EVAL_TIMEOUT must be positive")
	}
	if c.Sign.RetryBackoff < 0 {
		return fmt.Errorf("SIGN_RETRY_BACKOFF must not be negative")
	}
	if c.Sign.RequestTimeout <= 0 {
		return fmt.Errorf("SIGN_REQUEST_TIMEOUT must be positive")
	}
	if c.Sign.CheapRepairs < 0 {
		return fmt.Errorf("SIGN_CHEAP_REPAIRS must not be negative")
	}
	if c.Sign.Function == "" {
		return fmt.Errorf("SIGN_FUNCTION is required")
	}

	switch c.Browser.Mode {
	case ModeLocal, ModeDocker:
	case ModeRemote:
		if c.Browser.RemoteURL == "" {
			return fmt.Errorf("BROWSER_REMOTE_URL is required when BROWSER_MODE=remote")
		}
	default:
		return fmt.Errorf("unknown BROWSER_MODE %q", c.Browser.Mode)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive when rate limiting is enabled")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/xhs-signer/internal/api"
	"github.com/shehryarbajwa/xhs-signer/internal/browser"
	"github.com/shehryarbajwa/xhs-signer/internal/config"
	"github.com/shehryarbajwa/xhs-signer/internal/health"
	"github.com/shehryarbajwa/xhs-signer/internal/logging"
	"github.com/shehryarbajwa/xhs-signer/internal/metrics"
	"github.com/shehryarbajwa/xhs-signer/internal/proxy"
	"github.com/shehryarbajwa/xhs-signer/internal/ratelimit"
	"github.com/shehryarbajwa/xhs-signer/internal/script"
	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting XHS signature server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("browser_mode", cfg.Browser.Mode),
	)

	m := metrics.New()

	provisioner := script.NewProvisioner(script.Options{
		URLs:      cfg.Script.URLs,
		CachePath: cfg.Script.CachePath,
		MinBytes:  cfg.Script.MinBytes,
		Timeout:   cfg.Script.FetchTimeout,
	}, logger)

	launcher, cleanup, err := newLauncher(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	session := browser.NewSession(browser.Options{
		Origin:       cfg.Sign.Origin,
		CookieDomain: cfg.Sign.CookieDomain,
		Function:     cfg.Sign.Function,
		NavTimeout:   cfg.Browser.NavTimeout,
		SettleDelay:  cfg.Browser.SettleDelay,
		StartTimeout: cfg.Browser.StartTimeout,
	}, launcher, provisioner, logger)

	coord := signer.NewCoordinator(session, signer.Config{
		MaxAttempts:  cfg.Sign.MaxAttempts,
		RetryBackoff: cfg.Sign.RetryBackoff,
		CheapRepairs: cfg.Sign.CheapRepairs,
		EvalTimeout:  cfg.Sign.EvalTimeout,
		InitTimeout:  initTimeout(cfg),
	}, logger, m)

	// A failed start leaves the server up in a degraded state; the next
	// signing request retries initialization.
	startCtx, cancel := context.WithTimeout(context.Background(), initTimeout(cfg))
	if err := coord.Start(startCtx); err != nil {
		logger.Error("Initialization failed, starting in degraded mode", zap.Error(err))
	}
	cancel()

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		logger.Info("✓ Rate limiter initialized",
			zap.Int("requests_per_minute", cfg.RateLimit.RequestsPerMinute),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	var proxyServer *proxy.Server
	if cfg.Debug.ProxyEnabled {
		proxyServer = proxy.NewServer(session, logger)
		logger.Info("✓ DevTools debug proxy enabled at /debug/ws")
	}

	handler := api.NewHandler(coord, health.NewReporter(coord), logger, cfg.Sign.RequestTimeout)
	router := handler.SetupRoutes(api.RouterOptions{
		Metrics:     m,
		RateLimiter: rateLimiter,
		Proxy:       proxyServer,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      signBudget(cfg),
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rateLimiter != nil {
		go sweepLimiter(ctx, rateLimiter, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server listening",
			zap.String("health", fmt.Sprintf("http://%s/health", cfg.Server.Addr())),
			zap.String("sign", fmt.Sprintf("http://%s/sign", cfg.Server.Addr())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("⏳ Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// waits for the in-flight signing call, then disposes the browser
	if err := coord.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to close browser session", zap.Error(err))
	}

	logger.Info("✅ Server stopped cleanly")
	return nil
}

// newLauncher builds the launcher for the configured browser mode
func newLauncher(cfg *config.Config, logger *zap.Logger) (browser.Launcher, func(), error) {
	noop := func() {}

	switch cfg.Browser.Mode {
	case config.ModeRemote:
		logger.Info("✓ Using remote browser", zap.String("url", cfg.Browser.RemoteURL))
		return browser.NewRemoteLauncher(cfg.Browser.RemoteURL), noop, nil

	case config.ModeDocker:
		pool, err := browser.NewDockerPool(cfg.Browser.DockerImage)
		if err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		logger.Info("⏳ Ensuring browser image is available...", zap.String("image", cfg.Browser.DockerImage))
		if err := pool.EnsureImage(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ensure browser image: %w", err)
		}
		logger.Info("✓ Browser image ready")

		return browser.NewDockerLauncher(pool, logger), func() { pool.Close() }, nil

	default:
		return browser.NewLocalLauncher(browser.LaunchOptions{
			Headless:  cfg.Browser.Headless,
			ExecPath:  cfg.Browser.ExecPath,
			ExtraArgs: cfg.Browser.ExtraArgs,
		}), noop, nil
	}
}

// initTimeout bounds one full initialization: browser start, navigation and
// the cookie round trips that follow it.
func initTimeout(cfg *config.Config) time.Duration {
	return cfg.Browser.StartTimeout + 2*cfg.Browser.NavTimeout + cfg.Browser.SettleDelay
}

// signBudget is the longest a /sign response can take to write. Requests
// stop retrying at SIGN_REQUEST_TIMEOUT, but the attempt already running
// finishes under its own bounds: a full re-initialize plus identity and
// evaluation.
func signBudget(cfg *config.Config) time.Duration {
	return cfg.Sign.RequestTimeout + initTimeout(cfg) + 2*cfg.Sign.EvalTimeout + 10*time.Second
}

func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(10 * time.Minute); n > 0 {
				logger.Debug("Swept idle rate limit entries", zap.Int("removed", n))
			}
		}
	}
}

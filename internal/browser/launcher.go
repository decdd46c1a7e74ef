package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Handle is a launched browser that chromedp contexts can be created from
type Handle struct {
	AllocCtx context.Context
	DebugURL string

	once    sync.Once
	release func()
	// alive is optional; nil means the browser is assumed to be up
	alive func() bool
}

// Alive reports whether the underlying browser is still running
func (h *Handle) Alive() bool {
	if h == nil || h.alive == nil {
		return true
	}
	return h.alive()
}

// Release tears the browser down. Safe to call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// Launcher obtains a browser for a session
type Launcher interface {
	Launch(ctx context.Context) (*Handle, error)
}

// LaunchOptions configures locally executed Chrome
type LaunchOptions struct {
	Headless  bool
	ExecPath  string
	ExtraArgs string
}

// LocalLauncher runs Chrome as a child process
type LocalLauncher struct {
	opts LaunchOptions
}

// NewLocalLauncher creates a launcher that executes Chrome on this host
func NewLocalLauncher(opts LaunchOptions) *LocalLauncher {
	return &LocalLauncher{opts: opts}
}

func (l *LocalLauncher) Launch(ctx context.Context) (*Handle, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), buildExecOptions(l.opts)...)
	return &Handle{AllocCtx: allocCtx, release: cancel}, nil
}

// buildExecOptions assembles Chrome flags that keep the page from looking
// automated.
func buildExecOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.WindowSize(1366, 768),
	)

	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	for _, f := range strings.Fields(opts.ExtraArgs) {
		if k, v, ok := strings.Cut(f, "="); ok {
			out = append(out, chromedp.Flag(strings.TrimLeft(k, "-"), v))
		} else {
			out = append(out, chromedp.Flag(strings.TrimLeft(f, "-"), true))
		}
	}

	if opts.Headless {
		out = append(out, chromedp.Headless)
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}
	return out
}

// RemoteLauncher attaches to an already running browser
type RemoteLauncher struct {
	url string
}

// NewRemoteLauncher creates a launcher for the DevTools endpoint at url
func NewRemoteLauncher(url string) *RemoteLauncher {
	return &RemoteLauncher{url: url}
}

func (l *RemoteLauncher) Launch(ctx context.Context) (*Handle, error) {
	if l.url == "" {
		return nil, fmt.Errorf("remote browser url is empty")
	}
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), l.url)
	return &Handle{AllocCtx: allocCtx, DebugURL: l.url, release: cancel}, nil
}

// DockerLauncher starts a dedicated browser container per session
type DockerLauncher struct {
	pool   *DockerPool
	logger *zap.Logger
}

// NewDockerLauncher creates a launcher backed by pool
func NewDockerLauncher(pool *DockerPool, logger *zap.Logger) *DockerLauncher {
	return &DockerLauncher{pool: pool, logger: logger.Named("docker")}
}

func (l *DockerLauncher) Launch(ctx context.Context) (*Handle, error) {
	instance, err := l.pool.LaunchBrowser(ctx)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Browser container started",
		zap.String("container_id", shortID(instance.ContainerID)),
		zap.String("connect_url", instance.ConnectURL),
	)

	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), instance.ConnectURL)
	release := func() {
		cancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := l.pool.StopBrowser(stopCtx, instance.ContainerID); err != nil {
			l.logger.Warn("Failed to stop browser container",
				zap.String("container_id", shortID(instance.ContainerID)),
				zap.Error(err),
			)
		}
	}
	alive := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return l.pool.IsHealthy(ctx, instance.ContainerID)
	}
	return &Handle{AllocCtx: allocCtx, DebugURL: instance.ConnectURL, release: release, alive: alive}, nil
}

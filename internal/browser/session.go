// Package browser implements the signing session on top of a real Chrome
// instance driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/xhs-signer/internal/script"
	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

// Cookie names the platform reads identity from
const (
	CookieA1         = "a1"
	CookieWebSession = "web_session"
	CookieWebID      = "webId"
)

// ScriptSource provides the init script installed before navigation
type ScriptSource interface {
	Ensure(ctx context.Context) (*script.Source, error)
}

// Options configures a Session
type Options struct {
	Origin       string
	CookieDomain string
	Function     string
	NavTimeout   time.Duration
	SettleDelay  time.Duration
	StartTimeout time.Duration
}

// Session owns one browser and one page. It is not safe for concurrent use
// apart from A1, NativeA1 and DebuggerURL, which may be read at any time.
type Session struct {
	opts     Options
	launcher Launcher
	scripts  ScriptSource
	logger   *zap.Logger
	now      func() time.Time

	handle    *Handle
	tabCtx    context.Context
	tabCancel context.CancelFunc
	crashed   atomic.Bool

	mu       sync.RWMutex
	a1       string
	nativeA1 string
	debugURL string
}

var _ signer.Session = (*Session)(nil)

var errScriptMissing = errors.New("signing function is not defined")

// NewSession creates an uninitialized session
func NewSession(opts Options, launcher Launcher, scripts ScriptSource, logger *zap.Logger) *Session {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 2 * time.Minute
	}
	return &Session{
		opts:     opts,
		launcher: launcher,
		scripts:  scripts,
		logger:   logger.Named("browser"),
		now:      time.Now,
	}
}

// Initialize launches a fresh browser, installs the init script, loads the
// origin and applies id.
func (s *Session) Initialize(ctx context.Context, id signer.Identity) error {
	src, err := s.scripts.Ensure(ctx)
	if err != nil {
		return signer.NewSessionError(signer.KindProvision, "initialize", err)
	}

	if err := s.Dispose(); err != nil {
		s.logger.Warn("Failed to dispose previous browser", zap.Error(err))
	}

	s.logger.Info("Launching browser")
	handle, err := s.launcher.Launch(ctx)
	if err != nil {
		return signer.NewSessionError(signer.KindLaunch, "launch", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(handle.AllocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Errorf),
	)

	if err := s.allocate(ctx, tabCtx); err != nil {
		tabCancel()
		handle.Release()
		return signer.NewSessionError(signer.KindLaunch, "launch", err)
	}

	s.handle = handle
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	s.crashed.Store(false)
	s.setNativeA1("")
	s.setDebugURL(handle.DebugURL)

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*inspector.EventTargetCrashed); ok {
			s.crashed.Store(true)
			s.logger.Error("Page crashed")
		}
	})

	actions := chromedp.Tasks{}
	if src != nil && src.Content != "" {
		content := src.Content
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(content).Do(ctx)
			return err
		}))
	}
	actions = append(actions,
		chromedp.Navigate(s.opts.Origin),
		// the site needs a moment after load before signing works
		chromedp.Sleep(s.opts.SettleDelay),
		chromedp.ActionFunc(func(ctx context.Context) error {
			a1, err := s.readCookie(ctx, CookieA1)
			if err != nil {
				return err
			}
			s.setNativeA1(a1)
			return nil
		}),
	)

	navCtx, cancel := s.actionContext(ctx, s.opts.NavTimeout)
	defer cancel()

	s.logger.Info("Navigating to origin", zap.String("origin", s.opts.Origin))
	if err := chromedp.Run(navCtx, actions); err != nil {
		return s.classify("navigate", ctx, navCtx, err, signer.KindPageDead)
	}

	if native := s.NativeA1(); native != "" {
		s.logger.Info("✅ Browser generated a1", zap.String("a1", native))
	} else {
		s.logger.Warn("⚠️ Browser did not generate an a1 cookie, signing may fail")
	}

	return s.ApplyIdentity(ctx, id)
}

// allocate starts the browser and opens the tab. The first Run on a
// chromedp context must not carry a deadline since the browser lives as
// long as that context, so the start timeout is enforced from outside.
func (s *Session) allocate(ctx context.Context, tabCtx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx)
	}()

	timer := time.NewTimer(s.opts.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("browser start timed out after %s", s.opts.StartTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyIdentity replaces the identity cookies. An empty a1 restores the
// browser's own value; other empty fields delete their cookie so nothing
// from a previous caller survives.
func (s *Session) ApplyIdentity(ctx context.Context, id signer.Identity) error {
	if !s.alive() {
		return signer.NewSessionError(signer.KindPageDead, "apply_identity", errors.New("no live page"))
	}

	a1 := id.A1
	if a1 == "" {
		a1 = s.NativeA1()
	}

	actx, cancel := s.actionContext(ctx, s.opts.NavTimeout)
	defer cancel()

	err := chromedp.Run(actx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := s.replaceCookie(ctx, CookieA1, a1); err != nil {
			return err
		}
		if err := s.replaceCookie(ctx, CookieWebSession, id.WebSession); err != nil {
			return err
		}
		return s.replaceCookie(ctx, CookieWebID, id.WebID)
	}))
	if err != nil {
		return s.classify("apply_identity", ctx, actx, err, signer.KindPageDead)
	}

	s.mu.Lock()
	s.a1 = a1
	s.mu.Unlock()
	return nil
}

// Sign evaluates the in-page signing function with the request's URI and
// payload.
func (s *Session) Sign(ctx context.Context, req signer.Request) (signer.Result, error) {
	if !s.alive() {
		return signer.Result{}, signer.NewSessionError(signer.KindPageDead, "sign", errors.New("no live page"))
	}

	expr, err := buildExpression(s.opts.Function, req.URI, req.Data)
	if err != nil {
		return signer.Result{}, signer.NewSessionError(signer.KindEvaluationThrew, "sign", err)
	}

	actx, cancel := s.actionContext(ctx, s.opts.NavTimeout)
	defer cancel()

	calledAt := s.now()
	var present bool
	var raw []byte
	err = chromedp.Run(actx,
		chromedp.Evaluate(presenceExpression(s.opts.Function), &present),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if !present {
				return errScriptMissing
			}
			return chromedp.Evaluate(expr, &raw, awaitPromise).Do(ctx)
		}),
	)
	if err != nil {
		return signer.Result{}, s.classify("sign", ctx, actx, err, signer.KindEvaluationThrew)
	}

	res, err := parseResult(raw, calledAt)
	if err != nil {
		return signer.Result{}, signer.NewSessionError(signer.KindEvaluationThrew, "sign", err)
	}
	return res, nil
}

// Dispose closes the tab and releases the browser
func (s *Session) Dispose() error {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.handle != nil {
		s.handle.Release()
	}
	s.handle = nil
	s.tabCtx = nil
	s.tabCancel = nil
	s.setDebugURL("")
	return nil
}

// A1 returns the a1 cookie value last applied to the page
func (s *Session) A1() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.a1
}

// DebuggerURL returns the DevTools endpoint of the current browser, if known
func (s *Session) DebuggerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debugURL
}

// NativeA1 returns the a1 cookie the browser generated when the origin was
// loaded. It is the value clients align their own cookie with.
func (s *Session) NativeA1() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nativeA1
}

func (s *Session) setNativeA1(a1 string) {
	s.mu.Lock()
	s.nativeA1 = a1
	s.mu.Unlock()
}

func (s *Session) setDebugURL(url string) {
	s.mu.Lock()
	s.debugURL = url
	s.mu.Unlock()
}

func (s *Session) alive() bool {
	return s.tabCtx != nil && s.tabCtx.Err() == nil && !s.crashed.Load() && s.handle.Alive()
}

// actionContext derives an action context from the tab that ends after d
// or when parent ends, whichever comes first.
func (s *Session) actionContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(s.tabCtx, d)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) classify(op string, parent, actx context.Context, err error, fallback signer.ErrorKind) error {
	kind := classify(err, fallback, !s.alive(), actx.Err() == context.DeadlineExceeded || parent.Err() != nil)
	return signer.NewSessionError(kind, op, err)
}

func (s *Session) readCookie(ctx context.Context, name string) (string, error) {
	cookies, err := network.GetCookies().WithUrls([]string{s.opts.Origin}).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read cookies: %w", err)
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value, nil
		}
	}
	return "", nil
}

func (s *Session) replaceCookie(ctx context.Context, name, value string) error {
	if value == "" {
		if err := network.DeleteCookies(name).WithDomain(s.opts.CookieDomain).Do(ctx); err != nil {
			return fmt.Errorf("failed to delete cookie %s: %w", name, err)
		}
		return nil
	}
	err := network.SetCookie(name, value).
		WithDomain(s.opts.CookieDomain).
		WithPath("/").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", name, err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

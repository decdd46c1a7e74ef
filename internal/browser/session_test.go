package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/xhs-signer/internal/script"
	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

type stubScripts struct {
	src *script.Source
	err error
}

func (s stubScripts) Ensure(ctx context.Context) (*script.Source, error) {
	return s.src, s.err
}

type stubLauncher struct {
	calls int
	err   error
}

func (l *stubLauncher) Launch(ctx context.Context) (*Handle, error) {
	l.calls++
	return nil, l.err
}

func testOptions() Options {
	return Options{
		Origin:       "https://www.xiaohongshu.com",
		CookieDomain: ".xiaohongshu.com",
		Function:     "_webmsxyw",
	}
}

func TestInitializeProvisionFailure(t *testing.T) {
	launcher := &stubLauncher{}
	scripts := stubScripts{err: &script.ProvisionError{Reason: "all sources failed"}}
	s := NewSession(testOptions(), launcher, scripts, zaptest.NewLogger(t))

	err := s.Initialize(context.Background(), signer.Identity{})
	require.Error(t, err)
	assert.Equal(t, signer.KindProvision, signer.KindOf(err))
	assert.Zero(t, launcher.calls, "no browser is launched without a script")

	var pe *script.ProvisionError
	assert.True(t, errors.As(err, &pe))
}

func TestInitializeLaunchFailure(t *testing.T) {
	launcher := &stubLauncher{err: errors.New("chrome not found")}
	scripts := stubScripts{src: &script.Source{Content: "// stealth"}}
	s := NewSession(testOptions(), launcher, scripts, zaptest.NewLogger(t))

	err := s.Initialize(context.Background(), signer.Identity{})
	require.Error(t, err)
	assert.Equal(t, signer.KindLaunch, signer.KindOf(err))
	assert.Equal(t, 1, launcher.calls)
}

func TestOperationsWithoutPage(t *testing.T) {
	s := NewSession(testOptions(), &stubLauncher{}, stubScripts{}, zaptest.NewLogger(t))

	err := s.ApplyIdentity(context.Background(), signer.Identity{A1: "a"})
	assert.Equal(t, signer.KindPageDead, signer.KindOf(err))

	_, err = s.Sign(context.Background(), signer.Request{URI: "/api"})
	assert.Equal(t, signer.KindPageDead, signer.KindOf(err))

	assert.NoError(t, s.Dispose())
	assert.NoError(t, s.Dispose())
	assert.Empty(t, s.A1())
	assert.Empty(t, s.NativeA1())
	assert.Empty(t, s.DebuggerURL())
}

func TestStoppedBrowserIsPageDead(t *testing.T) {
	s := NewSession(testOptions(), &stubLauncher{}, stubScripts{}, zaptest.NewLogger(t))

	tabCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.tabCtx = tabCtx
	s.handle = &Handle{alive: func() bool { return false }}

	_, err := s.Sign(context.Background(), signer.Request{URI: "/api"})
	assert.Equal(t, signer.KindPageDead, signer.KindOf(err))

	err = s.ApplyIdentity(context.Background(), signer.Identity{A1: "a"})
	assert.Equal(t, signer.KindPageDead, signer.KindOf(err))
}

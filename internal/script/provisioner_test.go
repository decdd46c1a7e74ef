package script

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var validScript = "/* stealth */ " + strings.Repeat("Object.defineProperty(navigator,'webdriver',{get:()=>undefined});", 4)

func serve(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvisioner(t *testing.T, urls []string, cachePath string) *Provisioner {
	return NewProvisioner(Options{
		URLs:      urls,
		CachePath: cachePath,
		MinBytes:  100,
		Timeout:   2 * time.Second,
	}, zaptest.NewLogger(t))
}

func TestEnsure_FallsBackToNextMirror(t *testing.T) {
	broken := serve(t, http.StatusInternalServerError, "boom", nil)
	tiny := serve(t, http.StatusOK, "tiny", nil)
	good := serve(t, http.StatusOK, validScript, nil)

	cache := filepath.Join(t.TempDir(), "stealth.min.js")
	p := newTestProvisioner(t, []string{broken.URL, tiny.URL, good.URL}, cache)

	src, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, validScript, src.Content)
	assert.Equal(t, good.URL, src.Origin)

	written, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, validScript, string(written))
}

func TestEnsure_CachesInMemory(t *testing.T) {
	var hits int32
	good := serve(t, http.StatusOK, validScript, &hits)
	p := newTestProvisioner(t, []string{good.URL}, "")

	for i := 0; i < 3; i++ {
		_, err := p.Ensure(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEnsure_PrefersDiskCache(t *testing.T) {
	var hits int32
	good := serve(t, http.StatusOK, validScript, &hits)

	cache := filepath.Join(t.TempDir(), "stealth.min.js")
	cached := strings.Repeat("c", 200)
	require.NoError(t, os.WriteFile(cache, []byte(cached), 0644))

	p := newTestProvisioner(t, []string{good.URL}, cache)
	src, err := p.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cached, src.Content)
	assert.Equal(t, cache, src.Origin)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestEnsure_IgnoresTruncatedCache(t *testing.T) {
	good := serve(t, http.StatusOK, validScript, nil)

	cache := filepath.Join(t.TempDir(), "stealth.min.js")
	require.NoError(t, os.WriteFile(cache, []byte("x"), 0644))

	p := newTestProvisioner(t, []string{good.URL}, cache)
	src, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, good.URL, src.Origin)
}

func TestEnsure_AllSourcesFail(t *testing.T) {
	var hits int32
	broken := serve(t, http.StatusNotFound, "", &hits)
	p := newTestProvisioner(t, []string{broken.URL, broken.URL}, "")

	_, err := p.Ensure(context.Background())
	require.Error(t, err)

	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "all 2 sources failed")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "each source is tried exactly once")

	// A failure is not memoised, the next call tries again.
	_, err = p.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestEnsure_NoSources(t *testing.T) {
	p := newTestProvisioner(t, nil, "")
	_, err := p.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestEnsure_CancelledContext(t *testing.T) {
	good := serve(t, http.StatusOK, validScript, nil)
	p := newTestProvisioner(t, []string{good.URL}, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ensure(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

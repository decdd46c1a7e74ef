package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExecOptions(t *testing.T) {
	base := buildExecOptions(LaunchOptions{Headless: true})
	assert.Greater(t, len(base), len(chromedp.DefaultExecAllocatorOptions))

	withExtra := buildExecOptions(LaunchOptions{Headless: true, ExecPath: "/usr/bin/chromium", ExtraArgs: "--lang=zh-CN --mute-audio"})
	assert.Len(t, withExtra, len(base)+3)

	headful := buildExecOptions(LaunchOptions{Headless: false})
	assert.Len(t, headful, len(base))
}

func TestHandleReleaseOnce(t *testing.T) {
	n := 0
	h := &Handle{release: func() { n++ }}
	h.Release()
	h.Release()
	assert.Equal(t, 1, n)

	var nilHandle *Handle
	assert.NotPanics(t, nilHandle.Release)
}

func TestHandleAlive(t *testing.T) {
	var nilHandle *Handle
	assert.True(t, nilHandle.Alive())
	assert.True(t, (&Handle{}).Alive())

	up := true
	h := &Handle{alive: func() bool { return up }}
	assert.True(t, h.Alive())
	up = false
	assert.False(t, h.Alive())
}

func TestRemoteLauncher(t *testing.T) {
	_, err := NewRemoteLauncher("").Launch(context.Background())
	assert.Error(t, err)

	h, err := NewRemoteLauncher("ws://127.0.0.1:9222").Launch(context.Background())
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, "ws://127.0.0.1:9222", h.DebugURL)
	assert.NotNil(t, h.AllocCtx)
}

func TestContainerName(t *testing.T) {
	name := containerName("0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, "xhs-signer-0f8fad5b", name)
	assert.True(t, strings.HasPrefix(containerName("ab"), "xhs-signer-"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
}

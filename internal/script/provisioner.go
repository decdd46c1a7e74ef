// Package script provisions the init script that is installed into the
// browser before the platform origin is loaded.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNoSources is returned when neither a cache file nor any mirror is configured
var ErrNoSources = errors.New("no script sources configured")

// Source is a provisioned script
type Source struct {
	Content string
	Origin  string // mirror URL or cache path the content came from
}

// ProvisionError reports that no usable script could be obtained. It is
// fatal to session readiness until a later initialize succeeds.
type ProvisionError struct {
	Reason string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("script provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return "script provisioning failed: " + e.Reason
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Options configures a Provisioner
type Options struct {
	URLs      []string
	CachePath string
	MinBytes  int
	Timeout   time.Duration
}

// Provisioner fetches the script once and keeps it for the process lifetime.
// It has no retry policy of its own; each mirror is tried once per Ensure.
type Provisioner struct {
	client    *resty.Client
	urls      []string
	cachePath string
	minBytes  int
	logger    *zap.Logger

	mu     sync.Mutex
	cached *Source
}

// NewProvisioner creates a provisioner
func NewProvisioner(opts Options, logger *zap.Logger) *Provisioner {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "xhs-signer/1.0")

	return &Provisioner{
		client:    client,
		urls:      opts.URLs,
		cachePath: opts.CachePath,
		minBytes:  opts.MinBytes,
		logger:    logger.Named("script"),
	}
}

// Ensure returns the script, loading it from the disk cache or the mirrors
// on first use.
func (p *Provisioner) Ensure(ctx context.Context) (*Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	if src, ok := p.loadCache(); ok {
		p.cached = src
		return src, nil
	}

	if len(p.urls) == 0 {
		return nil, &ProvisionError{Reason: "nothing to fetch", Err: ErrNoSources}
	}

	var lastErr error
	for idx, url := range p.urls {
		if err := ctx.Err(); err != nil {
			return nil, &ProvisionError{Reason: "cancelled", Err: err}
		}

		p.logger.Info("Downloading script",
			zap.Int("source", idx+1),
			zap.Int("sources", len(p.urls)),
			zap.String("url", url),
		)

		content, err := p.fetch(ctx, url)
		if err != nil {
			p.logger.Warn("Script source failed", zap.String("url", url), zap.Error(err))
			lastErr = err
			continue
		}

		src := &Source{Content: content, Origin: url}
		p.storeCache(content)
		p.cached = src
		p.logger.Info("✅ Script downloaded", zap.String("url", url), zap.Int("bytes", len(content)))
		return src, nil
	}

	return nil, &ProvisionError{Reason: fmt.Sprintf("all %d sources failed", len(p.urls)), Err: lastErr}
}

func (p *Provisioner) fetch(ctx context.Context, url string) (string, error) {
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	body := resp.String()
	if err := p.validate(body); err != nil {
		return "", err
	}
	return body, nil
}

func (p *Provisioner) validate(content string) error {
	if len(strings.TrimSpace(content)) < p.minBytes {
		return fmt.Errorf("script too small: %d bytes", len(content))
	}
	return nil
}

func (p *Provisioner) loadCache() (*Source, bool) {
	if p.cachePath == "" {
		return nil, false
	}

	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("Failed to read script cache", zap.String("path", p.cachePath), zap.Error(err))
		}
		return nil, false
	}

	if err := p.validate(string(data)); err != nil {
		p.logger.Warn("Ignoring invalid script cache", zap.String("path", p.cachePath), zap.Error(err))
		return nil, false
	}

	p.logger.Info("✅ Script loaded from cache", zap.String("path", p.cachePath), zap.Int("bytes", len(data)))
	return &Source{Content: string(data), Origin: p.cachePath}, true
}

func (p *Provisioner) storeCache(content string) {
	if p.cachePath == "" {
		return
	}
	if err := os.WriteFile(p.cachePath, []byte(content), 0644); err != nil {
		p.logger.Warn("Failed to write script cache", zap.String("path", p.cachePath), zap.Error(err))
	}
}

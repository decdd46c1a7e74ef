// Package signer owns the browser session and serialises signing calls
// against it, repairing the session on failure with a bounded retry budget.
package signer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/xhs-signer/internal/metrics"
)

// Config tunes retry and repair behaviour
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	// CheapRepairs is how many failures are tolerated in Degraded before
	// escalating to a full re-initialize.
	CheapRepairs int
	EvalTimeout  time.Duration
	InitTimeout  time.Duration
}

// Coordinator is the single entry point for signing. It is the only writer
// of session state; every session operation runs while holding gate.
type Coordinator struct {
	cfg     Config
	session Session
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// gate admits one caller at a time in arrival order
	gate *semaphore.Weighted

	// fields below are only touched while holding gate
	state            State
	applied          Identity
	identityApplied  bool
	degradedFailures int
	lastKind         ErrorKind
	closed           bool

	startedAt time.Time
	snapshot  atomic.Pointer[Snapshot]
}

// NewCoordinator creates a coordinator around an uninitialized session
func NewCoordinator(session Session, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 5 * time.Second
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 2 * time.Minute
	}

	c := &Coordinator{
		cfg:     cfg,
		session: session,
		logger:  logger.Named("coordinator"),
		metrics: m,
		now:     time.Now,
		gate:    semaphore.NewWeighted(1),
		state:   StateUninitialized,
	}
	c.startedAt = c.now()
	c.publish()
	return c
}

// Snapshot returns the latest published state without blocking
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// Start performs the eager startup initialization. A failure leaves the
// coordinator in Failed; the next Sign re-initializes.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	if c.closed {
		return ErrClosed
	}
	if c.state != StateUninitialized && c.state != StateFailed {
		return nil
	}
	return c.initialize(ctx, Identity{})
}

// Sign produces a fresh signature for req. A caller whose context ends
// while queued leaves without using the session.
func (c *Coordinator) Sign(ctx context.Context, req Request) (Result, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		c.metrics.RecordResult("abandoned")
		return Result{}, &SigningError{Code: CodeNotReady, Err: err}
	}
	defer c.gate.Release(1)

	if c.closed {
		return Result{}, &SigningError{Code: CodeNotReady, Err: ErrClosed}
	}

	logger := c.logger.With(zap.String("request_id", req.ID), zap.String("uri", req.URI))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx); err != nil {
				c.metrics.RecordResult("abandoned")
				return Result{}, &SigningError{Code: CodeNotReady, LastKind: KindOf(lastErr), Attempts: attempt - 1, Err: err}
			}
		}

		res, err := c.attempt(ctx, req)
		if err == nil {
			c.metrics.RecordAttempt("ok")
			c.metrics.RecordResult("ok")
			logger.Info("✅ Signature generated",
				zap.Int("attempt", attempt),
				zap.Int64("x-t", res.Timestamp),
			)
			return res, nil
		}

		lastErr = err
		kind := KindOf(err)
		c.metrics.RecordAttempt(string(kind))
		logger.Warn("Signing attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.String("kind", string(kind)),
			zap.String("state", string(c.state)),
			zap.Error(err),
		)
	}

	kind := KindOf(lastErr)
	c.metrics.RecordResult("exhausted")
	logger.Error("Signing failed, retries exhausted",
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.String("last_kind", string(kind)),
	)
	return Result{}, &SigningError{
		Code:     CodeRetriesExhausted,
		LastKind: kind,
		Attempts: c.cfg.MaxAttempts,
		Err:      lastErr,
	}
}

// Close disposes the session and rejects further requests. In-flight and
// queued callers finish first.
func (c *Coordinator) Close(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	if c.closed {
		return nil
	}
	c.closed = true
	c.identityApplied = false
	err := c.session.Dispose()
	c.transition(StateUninitialized)
	return err
}

// attempt runs one step of the repair state machine followed by at most
// one evaluation. Each call consumes one unit of the retry budget.
func (c *Coordinator) attempt(ctx context.Context, req Request) (Result, error) {
	switch c.state {
	case StateUninitialized, StateFailed:
		if err := c.initialize(ctx, req.Identity); err != nil {
			return Result{}, err
		}

	case StateRepairing:
		if err := c.session.Dispose(); err != nil {
			c.logger.Warn("Dispose during repair failed", zap.Error(err))
		}
		c.identityApplied = false
		if err := c.initialize(ctx, req.Identity); err != nil {
			return Result{}, err
		}

	case StateDegraded:
		// cheap repair: reapply identity on the existing page
		if err := c.applyIdentity(ctx, req.Identity); err != nil {
			c.onFailure(err)
			return Result{}, err
		}
	}

	if !c.identityApplied || c.applied != req.Identity {
		if err := c.applyIdentity(ctx, req.Identity); err != nil {
			c.onFailure(err)
			return Result{}, err
		}
	}

	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EvalTimeout)
	defer cancel()

	start := c.now()
	res, err := c.session.Sign(evalCtx, req)
	c.metrics.ObserveEval(c.now().Sub(start))
	if err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			err = NewSessionError(KindTimeout, "sign", err)
		}
		c.onFailure(err)
		return Result{}, err
	}

	c.degradedFailures = 0
	c.lastKind = ""
	c.transition(StateReady)
	return res, nil
}

func (c *Coordinator) initialize(ctx context.Context, id Identity) error {
	initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.InitTimeout)
	defer cancel()

	c.logger.Info("Initializing browser session")
	if err := c.session.Initialize(initCtx, id); err != nil {
		c.metrics.RecordInit(false)
		c.identityApplied = false
		c.lastKind = KindOf(err)
		c.logger.Error("❌ Browser session initialization failed", zap.Error(err))
		c.transition(StateFailed)
		return err
	}

	c.metrics.RecordInit(true)
	c.applied = id
	c.identityApplied = true
	c.degradedFailures = 0
	c.lastKind = ""
	c.transition(StateReady)
	c.logger.Info("✅ Browser session ready", zap.String("native_a1", c.session.NativeA1()))
	return nil
}

func (c *Coordinator) applyIdentity(ctx context.Context, id Identity) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EvalTimeout)
	defer cancel()

	c.identityApplied = false
	if err := c.session.ApplyIdentity(opCtx, id); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return NewSessionError(KindTimeout, "apply_identity", err)
		}
		return err
	}
	c.applied = id
	c.identityApplied = true
	return nil
}

// onFailure moves the state machine after a failed apply or evaluation.
func (c *Coordinator) onFailure(err error) {
	kind := KindOf(err)
	c.lastKind = kind

	switch c.state {
	case StateReady:
		switch kind {
		case KindPageDead, KindTimeout, KindScriptMissing:
			c.degradedFailures = 0
			c.transition(StateDegraded)
			if c.cfg.CheapRepairs == 0 {
				c.transition(StateRepairing)
			}
		default:
			// the script threw; the page itself is usable
			c.publish()
		}

	case StateDegraded:
		c.degradedFailures++
		if c.degradedFailures >= c.cfg.CheapRepairs {
			c.transition(StateRepairing)
		} else {
			c.publish()
		}
	}
}

func (c *Coordinator) transition(next State) {
	prev := c.state
	if prev == next {
		c.publish()
		return
	}
	if !canTransition(prev, next) {
		// programming error in the coordinator; keep serving but make it loud
		c.logger.Error("Rejected state transition",
			zap.Error(fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, prev, next)))
		return
	}

	c.state = next
	c.metrics.RecordTransition(string(prev), string(next))
	c.logger.Debug("State transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	c.publish()
}

func (c *Coordinator) publish() {
	snap := &Snapshot{
		State:     c.state,
		LastKind:  c.lastKind,
		StartedAt: c.startedAt,
		UpdatedAt: c.now(),
	}
	if c.state == StateReady {
		snap.A1 = c.session.A1()
		snap.NativeA1 = c.session.NativeA1()
	} else if prev := c.snapshot.Load(); prev != nil {
		snap.A1 = prev.A1
		snap.NativeA1 = prev.NativeA1
	}
	c.snapshot.Store(snap)
}

func (c *Coordinator) backoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil || c.cfg.RetryBackoff <= 0 {
		return err
	}
	timer := time.NewTimer(c.cfg.RetryBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

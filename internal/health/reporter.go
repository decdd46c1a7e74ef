// Package health reports readiness of the signer for external polling.
package health

import (
	"time"

	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// a1 values are shown truncated to this many characters
const a1Preview = 20

// Source publishes coordinator snapshots
type Source interface {
	Snapshot() signer.Snapshot
}

// Report is the health view returned to callers
type Report struct {
	Status       string
	BrowserReady bool
	A1           string
	Timestamp    int64
	Uptime       time.Duration
	State        signer.State
	LastKind     signer.ErrorKind
}

// Reporter derives health reports from the coordinator. It never blocks on
// the signing gate and never triggers initialization.
type Reporter struct {
	source Source
	now    func() time.Time
}

// NewReporter creates a reporter over source
func NewReporter(source Source) *Reporter {
	return &Reporter{source: source, now: time.Now}
}

// Report computes a fresh report from the latest snapshot
func (r *Reporter) Report() Report {
	snap := r.source.Snapshot()
	now := r.now()

	rep := Report{
		Status:       StatusUnhealthy,
		BrowserReady: snap.Ready(),
		A1:           preview(snap.NativeA1),
		Timestamp:    now.Unix(),
		Uptime:       now.Sub(snap.StartedAt),
		State:        snap.State,
		LastKind:     snap.LastKind,
	}
	if rep.BrowserReady {
		rep.Status = StatusHealthy
	}
	return rep
}

// A1 returns the browser's own a1 in full. Caller-supplied values are never
// reported.
func (r *Reporter) A1() string {
	return r.source.Snapshot().NativeA1
}

func preview(a1 string) string {
	if a1 == "" {
		return ""
	}
	if len(a1) > a1Preview {
		a1 = a1[:a1Preview]
	}
	return a1 + "..."
}

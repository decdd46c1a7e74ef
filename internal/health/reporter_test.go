package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/xhs-signer/internal/signer"
)

type staticSource struct {
	snap signer.Snapshot
}

func (s staticSource) Snapshot() signer.Snapshot { return s.snap }

func TestReportReady(t *testing.T) {
	started := time.Unix(1706774400, 0)
	r := NewReporter(staticSource{snap: signer.Snapshot{
		State:     signer.StateReady,
		A1:        "caller-private-a1",
		NativeA1:  "18c7a7b5e3cxyz0123456789abcdef",
		StartedAt: started,
	}})
	r.now = func() time.Time { return started.Add(90 * time.Second) }

	rep := r.Report()
	assert.Equal(t, StatusHealthy, rep.Status)
	assert.True(t, rep.BrowserReady)
	assert.Equal(t, "18c7a7b5e3cxyz012345...", rep.A1)
	assert.Equal(t, int64(1706774490), rep.Timestamp)
	assert.Equal(t, 90*time.Second, rep.Uptime)
	assert.Equal(t, signer.StateReady, rep.State)
	assert.Equal(t, "18c7a7b5e3cxyz0123456789abcdef", r.A1())
	assert.NotContains(t, rep.A1, "caller")
}

func TestReportNotReady(t *testing.T) {
	for _, state := range []signer.State{
		signer.StateUninitialized,
		signer.StateDegraded,
		signer.StateRepairing,
		signer.StateFailed,
	} {
		t.Run(string(state), func(t *testing.T) {
			r := NewReporter(staticSource{snap: signer.Snapshot{State: state, LastKind: signer.KindPageDead}})
			rep := r.Report()
			assert.Equal(t, StatusUnhealthy, rep.Status)
			assert.False(t, rep.BrowserReady)
			assert.Equal(t, signer.KindPageDead, rep.LastKind)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "", preview(""))
	assert.Equal(t, "short...", preview("short"))
	assert.Equal(t, "01234567890123456789...", preview("0123456789012345678901"))
}

package supervisor

import (
	"time"

	"github.com/scarson/poolmaster/internal/queuegroup"
	"github.com/scarson/poolmaster/internal/registry"
)

// Snapshot is a read-only, JSON-friendly view of the Registry and
// BackoffState, for the admin /status endpoint and for poll hooks that
// want to publish metrics without reaching into Master internals.
type Snapshot struct {
	Workers    map[queuegroup.QueueGroup][]registry.WorkerRecord `json:"workers"`
	DelayUntil map[queuegroup.QueueGroup]time.Time               `json:"delay_until"`
	QueueDepth int                                                `json:"signal_queue_depth"`
	QueueDrops int                                                `json:"signal_queue_drops"`
}

// Snapshot builds a Snapshot of the Master's current state.
func (m *Master) Snapshot() Snapshot {
	return Snapshot{
		Workers:    m.registry.Snapshot(),
		DelayUntil: m.backoffs.Snapshot(),
		QueueDepth: m.sigq.Len(),
		QueueDrops: m.sigq.Drops(),
	}
}

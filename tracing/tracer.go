// Package tracing records what happens during a run: per-tick statistics,
// failed entity updates, spatial rebalances and, optionally, every committed
// move.
package tracing

import (
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// A Tracer receives run events. Methods may be called from several worker
// goroutines at once.
type Tracer interface {
	EndTick(stats workers.TickStats)
	UpdateFailed(entityID id.ID, failure workers.UpdateFailure)
	Rebalanced(tick uint64, stats spatial.Stats)
	Moved(entityID id.ID, tick uint64, from, to entity.Placement)
	Terminate() error
}

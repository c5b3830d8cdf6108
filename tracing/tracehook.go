package tracing

import (
	"fmt"
	"reflect"

	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// CollectTrace lets the tracer collect events from a domain. Attaching the
// same tracer twice to a domain panics.
func CollectTrace(domain hooking.Hookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %T already has tracer %s",
				domain, reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(&traceHook{t: tracer})
}

// CollectGroup attaches the tracer to a work group and to all its workers.
// With moves set, the committed position of every located entity, present
// and future, is traced as well.
func CollectGroup(g *workers.WorkGroup, tracer Tracer, moves bool) {
	CollectTrace(g, tracer)

	for _, w := range g.Workers() {
		CollectTrace(w, tracer)
	}

	if !moves {
		return
	}

	clock := g.Clock()

	for _, entityID := range g.EntityIDs() {
		e, _ := g.Entity(entityID)
		traceMoves(e, clock, tracer)
	}

	g.AcceptHook(hooking.AtPositions(
		hooking.NewHookFunc(func(ctx hooking.HookCtx) {
			traceMoves(ctx.Item.(entity.Entity), clock, tracer)
		}),
		workers.HookPosEntityBorn,
	))
}

func traceMoves(e entity.Entity, clock *phase.Clock, tracer Tracer) {
	l, ok := e.(entity.Located)
	if !ok {
		return
	}

	l.Placement().AcceptHook(&moveHook{
		t:     tracer,
		clock: clock,
		e:     l,
	})
}

type traceHook struct {
	t Tracer
}

// Func dispatches the hook to the tracer.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case workers.HookPosTickEnd:
		h.t.EndTick(ctx.Detail.(workers.TickStats))
	case workers.HookPosEntityUpdateFailed:
		e := ctx.Item.(entity.Entity)
		h.t.UpdateFailed(e.ID(), ctx.Detail.(workers.UpdateFailure))
	case workers.HookPosRebalance:
		h.t.Rebalanced(ctx.Item.(uint64), ctx.Detail.(spatial.Stats))
	}
}

type moveHook struct {
	t     Tracer
	clock *phase.Clock
	e     entity.Located
}

func (h *moveHook) Func(ctx hooking.HookCtx) {
	if ctx.Pos != buffering.HookPosFlip {
		return
	}

	c := ctx.Detail.(buffering.Change[entity.Placement])
	h.t.Moved(h.e.ID(), h.clock.Now().Tick, c.Old, c.New)
}

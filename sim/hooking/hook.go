// Package hooking lets tracers, loggers and monitors observe engine objects
// without the engine depending on them.
package hooking

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies where the hook is firing from.
	Pos *HookPos

	// Item carries the primary subject (an entity, a buffered value, a tick).
	Item any

	// Detail holds optional auxiliary data; hook sites may leave it nil.
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	//
	// Hooks must be registered before the domain starts ticking. Hooks may be
	// invoked from several worker goroutines at once, so implementations must
	// be safe for concurrent use.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

type funcHook struct {
	fn func(ctx HookCtx)
}

func (h *funcHook) Func(ctx HookCtx) {
	h.fn(ctx)
}

// NewHookFunc wraps a plain function as a Hook. Each call returns a distinct
// hook, so the same function can be attached to many domains.
func NewHookFunc(fn func(ctx HookCtx)) Hook {
	return &funcHook{fn: fn}
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook register a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mustNotHaveDuplicatedHook(hook)
	h.hookList = append(h.hookList, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	for _, h := range h.hookList {
		if h == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

type posHook struct {
	positions []*HookPos
	next      Hook
}

func (h *posHook) Func(ctx HookCtx) {
	for _, p := range h.positions {
		if ctx.Pos == p {
			h.next.Func(ctx)
			return
		}
	}
}

// AtPositions returns a hook that forwards to next only when the hook fires
// at one of the given positions.
func AtPositions(next Hook, positions ...*HookPos) Hook {
	return &posHook{positions: positions, next: next}
}

package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HookableBase", func() {
	var (
		base   *HookableBase
		posA   = &HookPos{Name: "A"}
		posB   = &HookPos{Name: "B"}
		called []string
	)

	BeforeEach(func() {
		base = NewHookableBase()
		called = nil
	})

	It("should invoke hooks in registration order", func() {
		base.AcceptHook(NewHookFunc(func(ctx HookCtx) {
			called = append(called, "first:"+ctx.Pos.Name)
		}))
		base.AcceptHook(NewHookFunc(func(ctx HookCtx) {
			called = append(called, "second:"+ctx.Pos.Name)
		}))

		base.InvokeHook(HookCtx{Pos: posA})

		Expect(base.NumHooks()).To(Equal(2))
		Expect(called).To(Equal([]string{"first:A", "second:A"}))
	})

	It("should panic on duplicated hooks", func() {
		h := NewHookFunc(func(HookCtx) {})
		base.AcceptHook(h)

		Expect(func() { base.AcceptHook(h) }).To(Panic())
	})

	It("should filter by position", func() {
		inner := NewHookFunc(func(ctx HookCtx) {
			called = append(called, ctx.Pos.Name)
		})
		base.AcceptHook(AtPositions(inner, posB))

		base.InvokeHook(HookCtx{Pos: posA})
		base.InvokeHook(HookCtx{Pos: posB})

		Expect(called).To(Equal([]string{"B"}))
	})
})

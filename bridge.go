// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/kont"
)

// The suspend bridge is the only way a fibre gives up control. enter hands
// the setup function a one-shot enqueue; the fibre then parks until a
// producer fires it. Affine semantics: exactly one enqueue resumes the
// fibre, extra calls are ignored ([kont.Affine] enforces the single shot).

// enter suspends the calling fibre. setup runs synchronously in the
// suspended fibre's frame: it may install a cancel callback on the fibre's
// context and register the enqueue in arbitrary waiter lists. Resumption
// may be synchronous (enqueue before setup returns parks the fibre only
// until the loop services the ready queue). The cancel callback slot is
// cleared before enter returns.
func (fb *Fibre) enter(setup func(enqueue func(outcome))) outcome {
	shot := kont.Once(func(o outcome) struct{} {
		fb.loop.ready.push(pending{fb: fb, out: o})
		return struct{}{}
	})
	setup(func(o outcome) { shot.TryResume(o) })
	out := fb.park()
	fb.ctx.clearCancelFn()
	return out
}

// Enter is the typed suspension primitive. setup receives a one-shot
// enqueue function; the first call resumes the fibre with the given value
// or error, later calls are ignored. The enqueue function must only be
// invoked on the loop thread — hand it to a [Waker] to fire it from
// another goroutine.
func Enter[T any](fb *Fibre, setup func(enqueue func(T, error))) (T, error) {
	out := fb.enter(func(enq func(outcome)) {
		setup(func(v T, err error) { enq(outcome{v: v, err: err}) })
	})
	if out.err != nil {
		var zero T
		return zero, out.err
	}
	if out.v == nil {
		var zero T
		return zero, nil
	}
	return out.v.(T), nil
}

// Waker is a one-shot handle for resuming loop work from another
// goroutine. Its thunk is routed through the loop's injector and runs on
// the loop thread. A loop with outstanding wakers polls the injector
// instead of reporting deadlock.
type Waker struct {
	l    *Loop
	used atomix.Uint32
	fn   func()
}

// NewWaker registers fn to be run on the loop thread when Wake is called.
// Every waker must eventually be woken or discarded, or the loop will spin
// waiting for it instead of detecting deadlock.
func NewWaker(fb *Fibre, fn func()) *Waker {
	w := &Waker{l: fb.loop, fn: fn}
	w.l.external.Add(1)
	return w
}

// Wake schedules the waker's thunk on the loop. Safe to call from any
// goroutine. Only the first call schedules; it reports whether this call
// was the one that fired.
func (w *Waker) Wake() bool {
	if w.used.Add(1) != 1 {
		return false
	}
	w.l.inject(func() {
		w.l.external.Add(^uint32(0))
		w.fn()
	})
	return true
}

// Discard marks the waker as used without scheduling it.
// Must be called on the loop thread.
func (w *Waker) Discard() {
	if w.used.Add(1) == 1 {
		w.l.external.Add(^uint32(0))
	}
}

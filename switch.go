// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

type swState uint8

const (
	switchOn swState = iota
	switchTurningOff
	switchOff
)

// Switch is a scoped supervisor. Every fibre spawned under it runs under
// its cancellation context and is counted by the op counter; the scope
// does not return until the counter reaches zero. Release handlers run in
// LIFO order on the way out, with cancellation deferred, and the first
// stored failure (or the aggregate) propagates from [RunSwitch].
//
// State machine:
//
//	On ──TurnOff(err)──► TurningOff(err) ──finish──► Off
//	On ──finish (clean)──► Off
//
// An Off switch rejects all new operations with [ErrSwitchFinished].
type Switch struct {
	cctx *CancelContext

	state  swState
	stored error

	opCount int

	// releases is the LIFO stack of release handlers.
	releases []func() error

	cancelHooks waiterList[error]

	// finishEnq re-enqueues the finishing fibre when opCount drains.
	finishEnq func(outcome)
}

// Context returns the switch's cancellation context.
func (sw *Switch) Context() *CancelContext { return sw.cctx }

// RunSwitch runs body under a fresh switch whose cancellation context is
// a child of the calling fibre's, then finishes the switch: awaits every
// child fibre, runs release handlers, and propagates the stored failure.
func RunSwitch[T any](fb *Fibre, body func(*Fibre, *Switch) (T, error)) (T, error) {
	return runSwitchUnder(fb, fb.ctx, body)
}

func runSwitchUnder[T any](fb *Fibre, parent *CancelContext, body func(*Fibre, *Switch) (T, error)) (T, error) {
	cctx, err := newCancelContext(parent)
	if err != nil {
		var zero T
		return zero, err
	}
	sw := &Switch{cctx: cctx}
	saved := fb.ctx
	fb.ctx = cctx
	v, err := runSwitchBody(fb, sw, body)
	err = sw.finish(fb, err, parent)
	fb.ctx = saved
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func runSwitchBody[T any](fb *Fibre, sw *Switch, body func(*Fibre, *Switch) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return body(fb, sw)
}

func runSwitchErr(fb *Fibre, body func(*Fibre, *Switch) error) error {
	_, err := RunSwitch(fb, func(fb *Fibre, sw *Switch) (struct{}, error) {
		return struct{}{}, body(fb, sw)
	})
	return err
}

// finish drains children, runs release handlers, retires the switch, and
// computes the propagated failure. The *Cancelled wrapper is stripped
// when the parent context is not itself cancelling: outside the
// originating context, handlers observe the cause directly.
func (sw *Switch) finish(fb *Fibre, bodyErr error, parent *CancelContext) error {
	if bodyErr != nil {
		sw.TurnOff(bodyErr)
	}
	if sw.opCount > 0 {
		// Child completions decrement the counter; the one reaching
		// zero re-enqueues us. Not a cancellation point: the drain must
		// finish regardless.
		fb.enter(func(enq func(outcome)) {
			sw.finishEnq = enq
		})
	}
	for n := len(sw.releases); n > 0; n = len(sw.releases) {
		h := sw.releases[n-1]
		sw.releases = sw.releases[:n-1]
		if err := protectCall(fb, h); err != nil {
			sw.TurnOff(err)
		}
	}
	// A cancellation that arrived from an ancestor without any fibre
	// reporting it still has to surface.
	if sw.stored == nil {
		if cause := sw.cctx.Err(); cause != nil {
			sw.stored = cancelledOf(cause)
		}
	}
	sw.state = switchOff
	sw.cctx.finish()
	err := sw.stored
	if c, ok := err.(*Cancelled); ok && parent.Err() == nil {
		err = c.Cause
	}
	return err
}

// TurnOff records a failure and begins turning the switch off: the first
// call transitions On to TurningOff, fires the cancel hooks, and cancels
// the switch's context with the unwrapped cause. Later calls combine
// their failure into the stored one: real failures displace
// cancellations and aggregate as [Multiple]; among cancellations the most
// recent wins.
func (sw *Switch) TurnOff(err error) {
	if err == nil {
		panic("fibre: turn off with nil error")
	}
	switch sw.state {
	case switchOff:
		panic("fibre: turn off on finished switch")
	case switchTurningOff:
		sw.stored = combineErr(sw.stored, err)
	case switchOn:
		sw.state = switchTurningOff
		sw.stored = err
		sw.cancelHooks.fire(err)
		sw.cctx.Cancel(unwrapCancelled(err))
	}
}

// Check returns the reason the switch rejects new work: ErrSwitchFinished
// when Off, the stored failure (unwrapped) when TurningOff, and the
// wrapped cancellation when the switch's context was cancelled from
// outside while the switch itself is still On. Nil when operational.
func (sw *Switch) Check() error {
	switch sw.state {
	case switchOff:
		return ErrSwitchFinished
	case switchTurningOff:
		return unwrapCancelled(sw.stored)
	}
	if cause := sw.cctx.Err(); cause != nil {
		return cancelledOf(cause)
	}
	return nil
}

// beginOp admits one operation. Admission fails with ErrSwitchFinished on
// an Off switch and with the *Cancelled form once the switch is turning
// off or its context is cancelled, so fork wrappers swallow it instead of
// re-reporting a cause the switch already knows.
func (sw *Switch) beginOp() error {
	switch sw.state {
	case switchOff:
		return ErrSwitchFinished
	case switchTurningOff:
		return cancelledOf(unwrapCancelled(sw.stored))
	}
	if cause := sw.cctx.Err(); cause != nil {
		return cancelledOf(cause)
	}
	sw.opCount++
	return nil
}

func (sw *Switch) endOp() {
	sw.opCount--
	if sw.opCount < 0 {
		panic("fibre: op counter underflow")
	}
	if sw.opCount == 0 && sw.finishEnq != nil {
		enq := sw.finishEnq
		sw.finishEnq = nil
		enq(outcome{})
	}
}

// WithOp runs f as a counted operation: admission checks the switch is
// still accepting work, and the counter is released on every exit path.
func WithOp[T any](sw *Switch, f func() (T, error)) (T, error) {
	if err := sw.beginOp(); err != nil {
		var zero T
		return zero, err
	}
	defer sw.endOp()
	return f()
}

// OnRelease pushes a release handler. Handlers run exactly once, in LIFO
// order, when the switch finishes — also when it is already turning off,
// so resources acquired during teardown are still released. Registration
// on a finished switch fails with ErrSwitchFinished.
func (sw *Switch) OnRelease(h func() error) error {
	if sw.state == switchOff {
		return ErrSwitchFinished
	}
	sw.releases = append(sw.releases, h)
	return nil
}

// AddCancelHook registers a one-shot hook fired when the switch
// transitions to TurningOff, receiving the stored failure. Hooks fire in
// LIFO registration order. If the switch is already turning off the hook
// runs immediately; the returned handle is then detached.
func (sw *Switch) AddCancelHook(h func(error)) (*Waiter[error], error) {
	switch sw.state {
	case switchOff:
		return nil, ErrSwitchFinished
	case switchTurningOff:
		h(sw.stored)
		return &Waiter[error]{}, nil
	}
	return sw.cancelHooks.add(h), nil
}

// SubSwitch runs body under a fresh child switch whose cancellation
// context is a child of sw's. A failure that is not *Cancelled is handed
// to onError; cancellation propagates transparently. If onError itself
// fails, the parent switch is turned off with both failures.
func SubSwitch(fb *Fibre, sw *Switch, onError func(error) error, body func(*Fibre, *Switch) error) error {
	_, err := runSwitchUnder(fb, sw.cctx, func(fb *Fibre, child *Switch) (struct{}, error) {
		return struct{}{}, body(fb, child)
	})
	if err == nil || isCancelled(err) {
		return err
	}
	if err2 := safeOnError(onError, err); err2 != nil {
		sw.TurnOff(multipleOf(err, err2))
	}
	return nil
}

// safeOnError invokes a user error callback, converting a panic into a
// *PanicError failure.
func safeOnError(onError func(error) error, err error) (err2 error) {
	defer func() {
		if r := recover(); r != nil {
			err2 = newPanicError(r)
		}
	}()
	return onError(err)
}

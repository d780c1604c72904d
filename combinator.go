// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

// Yield suspends the calling fibre and re-enqueues it immediately: it
// resumes strictly after everything already in the ready queue. Yield is
// a cancellation point — the context is re-checked on resumption, so a
// cancel arriving between enqueue and dispatch is still observed.
func Yield(fb *Fibre) error {
	fb.enter(func(enq func(outcome)) {
		enq(outcome{})
	})
	return fb.ctx.Check()
}

// AwaitCancel suspends the calling fibre until its context is cancelled
// and returns the *Cancelled failure. It never returns nil.
func AwaitCancel(fb *Fibre) error {
	if err := fb.ctx.Check(); err != nil {
		return err
	}
	out := fb.enter(func(enq func(outcome)) {
		fb.ctx.setCancelFn(func(err error) { enq(outcome{err: err}) })
	})
	return out.err
}

// spawnPromise starts f immediately as a fibre on a fresh leaf under cc,
// resuming the spawner at f's first suspension. No switch accounting:
// callers await the promise before their scope returns. The leaf inherits
// a cancellation already in effect, so the body still runs and observes
// it at its first suspension — a synchronous failure is still recorded.
func spawnPromise[T any](fb *Fibre, cc *CancelContext, f func(*Fibre) (T, error)) *Promise[T] {
	child := fb.loop.newFibre(cc)
	p, r := NewPromise[T]()
	fb.loop.spawnNow(fb, child, func() {
		v, err := runFibreBody(child, f)
		if err != nil {
			r.Break(err)
		} else {
			r.Fulfill(v)
		}
	})
	return p
}

// Pair runs f in a new fibre and g on the calling fibre, both under a
// fresh child context, and returns both results. If g fails, the context
// is cancelled with g's failure and f's result is still collected (the
// await is not a cancellation point); both failures are preserved as
// [Multiple] unless one is the cancellation caused by the other.
func Pair[A, B any](fb *Fibre, f func(*Fibre) (A, error), g func(*Fibre) (B, error)) (A, B, error) {
	type pr struct {
		a A
		b B
	}
	v, err := Sub(fb, func(cc *CancelContext) (pr, error) {
		p := spawnPromise(fb, cc, f)
		bv, gerr := runFibreBody(fb, g)
		if gerr == nil {
			res := p.AwaitResult(fb)
			if fe, failed := res.GetLeft(); failed {
				return pr{}, fe
			}
			av, _ := res.GetRight()
			return pr{a: av, b: bv}, nil
		}
		if !isCancelled(gerr) {
			cc.Cancel(gerr)
		}
		res := p.AwaitResult(fb)
		fe, failed := res.GetLeft()
		if !failed || isCancelled(fe) {
			return pr{}, gerr
		}
		if isCancelled(gerr) {
			// f's real failure wins over the cancellation g observed.
			return pr{}, fe
		}
		return pr{}, multipleOf(fe, gerr)
	})
	if err != nil {
		var za A
		var zb B
		return za, zb, err
	}
	return v.a, v.b, nil
}

// Both runs f and g to completion under one switch and aggregates their
// failures.
func Both(fb *Fibre, f, g func(*Fibre) error) error {
	return All(fb, []func(*Fibre) error{f, g})
}

// All runs every function to completion under one switch. All failures
// are recorded: each body is admitted before any of them runs, so a
// failure in one does not prevent the others from reporting. Aggregates
// as [Multiple] in list order.
func All(fb *Fibre, fs []func(*Fibre) error) error {
	return runSwitchErr(fb, func(fb *Fibre, sw *Switch) error {
		for _, f := range fs {
			ForkIgnore(fb, sw, f)
		}
		return nil
	})
}

type anyOutcome uint8

const (
	anyNone anyOutcome = iota
	anyOk
	anyEx
)

// anyState accumulates the decision of Any: the first success, or the
// aggregated failures.
type anyState[T any] struct {
	kind anyOutcome
	okv  T
	exv  error
}

func (st *anyState[T]) record(cc *CancelContext, v T, err error) {
	switch {
	case err == nil:
		// First success wins and cancels the losers; later successes
		// are dropped.
		if st.kind == anyNone {
			st.kind = anyOk
			st.okv = v
			cc.Cancel(errNotFirst)
		}
	case isCancelled(err) && cc.Err() != nil:
		// A loser observing the sub-context's cancellation.
	case st.kind == anyEx:
		st.exv = multipleOf(st.exv, err)
	case st.kind == anyOk:
		// A failure must not be lost to an earlier success.
		st.kind = anyEx
		st.exv = err
	default:
		st.kind = anyEx
		st.exv = err
		cc.Cancel(errNotFirst)
	}
}

// Any runs the functions under a fresh child context and returns the
// result of the first to finish, cancelling the rest. All but the last
// run as new fibres; the last runs on the calling fibre, so a
// single-function Any pays no spawn. Independent failures aggregate as
// [Multiple]; an external cancellation of the sub-context is re-raised
// with its cause.
func Any[T any](fb *Fibre, fs []func(*Fibre) (T, error)) (T, error) {
	var zero T
	if len(fs) == 0 {
		panic("fibre: any of no functions")
	}
	var st anyState[T]
	var ccErr error
	_, serr := SubUnchecked(fb, func(cc *CancelContext) (struct{}, error) {
		wrap := func(f func(*Fibre) (T, error)) func(*Fibre) (struct{}, error) {
			return func(child *Fibre) (struct{}, error) {
				v, err := runFibreBody(child, f)
				st.record(cc, v, err)
				return struct{}{}, nil
			}
		}
		ps := make([]*Promise[struct{}], 0, len(fs)-1)
		for _, f := range fs[:len(fs)-1] {
			ps = append(ps, spawnPromise(fb, cc, wrap(f)))
		}
		v, err := runFibreBody(fb, fs[len(fs)-1])
		st.record(cc, v, err)
		for _, p := range ps {
			p.AwaitResult(fb)
		}
		if ccErr = cc.Err(); ccErr == errNotFirst {
			ccErr = nil
		}
		return struct{}{}, nil
	})
	if serr != nil {
		return zero, serr
	}
	switch {
	case st.kind == anyOk && ccErr == nil:
		return st.okv, nil
	case ccErr != nil && st.kind != anyEx:
		return zero, ccErr
	case st.kind == anyEx && ccErr == nil:
		return zero, st.exv
	case st.kind == anyEx:
		return zero, multipleOf(st.exv, ccErr)
	}
	panic("fibre: unreachable: any with no outcome")
}

// First runs f and g and returns the result of the first to finish,
// cancelling the other.
func First[T any](fb *Fibre, f, g func(*Fibre) (T, error)) (T, error) {
	return Any(fb, []func(*Fibre) (T, error){f, g})
}

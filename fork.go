// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

// Switch forks use queued spawns: admission (op count plus context check)
// happens at the fork call, and an admitted body runs even if the switch
// begins turning off before it is dispatched — it observes the
// cancellation at its next suspension. This is what lets two synchronous
// failures under one switch both be recorded.

// Fork spawns f as a new fibre under sw and returns the promise of its
// result. If the switch rejects the spawn — finished, turning off, or
// context cancelled — f does not run and the promise is broken with the
// rejection.
func Fork[T any](fb *Fibre, sw *Switch, f func(*Fibre) (T, error)) *Promise[T] {
	p, r := NewPromise[T]()
	if err := sw.beginOp(); err != nil {
		r.Break(err)
		return p
	}
	child := fb.loop.newFibre(sw.cctx)
	fb.loop.spawnQueued(child, func() {
		v, err := runFibreBody(child, f)
		if err != nil {
			r.Break(err)
		} else {
			r.Fulfill(v)
		}
		sw.endOp()
	})
	return p
}

// ForkIgnore spawns f as a new fibre under sw, discarding its result. A
// failure escaping f turns the switch off; *Cancelled is swallowed
// because the switch already recorded the cause. Forking on a finished
// switch is a programming error.
func ForkIgnore(fb *Fibre, sw *Switch, f func(*Fibre) error) {
	if err := sw.beginOp(); err != nil {
		if err == ErrSwitchFinished {
			panic("fibre: fork on finished switch")
		}
		// Rejected by cancellation: the cause is already recorded.
		return
	}
	child := fb.loop.newFibre(sw.cctx)
	fb.loop.spawnQueued(child, func() {
		if err := runFibreBodyErr(child, f); err != nil && !isCancelled(err) {
			sw.TurnOff(err)
		}
		sw.endOp()
	})
}

// ForkSubIgnore spawns body under a fresh child switch of sw, the
// canonical "allocate scoped resource, run child, release" primitive. The
// child runs immediately until its first suspension; onRelease, when
// given, is attached to the child switch before body runs and is
// guaranteed to run in every failure mode — including the child never
// starting because sw already rejects work, in which case the rejection
// reason is returned.
//
// A body failure that is not *Cancelled is handed to onError;
// cancellation is reported through the parent switch instead. If onError
// itself fails, the parent is turned off with both failures.
func ForkSubIgnore(fb *Fibre, sw *Switch, onError func(error) error, onRelease func() error, body func(*Fibre, *Switch) error) error {
	attached := false
	if err := sw.beginOp(); err == nil {
		child := fb.loop.newFibre(sw.cctx)
		fb.loop.spawnNow(fb, child, func() {
			err := runFibreBodyErr(child, func(child *Fibre) error {
				return runSwitchErr(child, func(child *Fibre, childSw *Switch) error {
					if onRelease != nil {
						if rerr := childSw.OnRelease(onRelease); rerr != nil {
							return rerr
						}
					}
					attached = true
					return body(child, childSw)
				})
			})
			switch {
			case err == nil:
			case isCancelled(err):
				sw.TurnOff(err)
			default:
				if err2 := safeOnError(onError, err); err2 != nil {
					sw.TurnOff(multipleOf(err, err2))
				}
			}
			sw.endOp()
		})
	}
	if attached {
		return nil
	}
	// The child never attached: the parent already rejects work. The
	// resource is still released, and the rejection reason propagates.
	var rerr error
	if onRelease != nil {
		rerr = protectCall(fb, onRelease)
	}
	err := combineErr(sw.Check(), rerr)
	if err == nil {
		panic("fibre: unreachable: rejected fork without a reason")
	}
	return err
}

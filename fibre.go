// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

// outcome is the type-erased resumption value delivered to a suspended
// fibre. Concrete types are recovered at the generic combinator boundary.
type outcome struct {
	v   any
	err error
}

// Fibre is the per-fibre handle binding a goroutine to its current
// cancellation context. Every combinator takes the handle of the fibre it
// runs on; bodies receive the handle of the fibre they were spawned as.
type Fibre struct {
	loop *Loop

	// ctx is the context the fibre currently runs under. Scoped
	// operations (switches, Sub, Protect) swap it for their duration.
	ctx *CancelContext

	// gate delivers resumption values. A fibre not currently running is
	// always blocked receiving on its gate.
	gate chan outcome

	// resumeTo, when set, receives control at the fibre's next handoff
	// instead of the loop. Used once, by direct-transfer spawns: the
	// spawner resumes as soon as the child first suspends or completes.
	resumeTo *Fibre

	serial Serial
}

// Loop returns the loop this fibre is scheduled on.
func (fb *Fibre) Loop() *Loop { return fb.loop }

// Context returns the cancellation context the fibre currently runs under.
func (fb *Fibre) Context() *CancelContext { return fb.ctx }

// Serial returns the serial number assigned to this fibre.
func (fb *Fibre) Serial() Serial { return fb.serial }

// handoff yields control: to the direct-transfer spawner if one is
// waiting, otherwise to the loop.
func (fb *Fibre) handoff() {
	if t := fb.resumeTo; t != nil {
		fb.resumeTo = nil
		t.gate <- outcome{}
		return
	}
	fb.loop.gate <- struct{}{}
}

// park yields control and blocks until a dispatch delivers the
// resumption value.
func (fb *Fibre) park() outcome {
	fb.handoff()
	return <-fb.gate
}

// runFibreBody runs a typed fibre body, converting a panic into a
// *PanicError failure.
func runFibreBody[T any](fb *Fibre, f func(*Fibre) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return f(fb)
}

func runFibreBodyErr(fb *Fibre, f func(*Fibre) error) error {
	_, err := runFibreBody(fb, func(fb *Fibre) (struct{}, error) {
		return struct{}{}, f(fb)
	})
	return err
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

type ctxState uint8

const (
	ctxActive ctxState = iota
	ctxCancelling
	ctxFinished
)

// CancelContext is a node in the cancellation tree. Cancelling a context
// marks every non-protected descendant with the same cause before the call
// returns; each suspended fibre under the subtree is re-enqueued with the
// cause through its installed cancel callback.
//
// A cancelling context never becomes active again. All state is mutated on
// the loop thread only.
type CancelContext struct {
	parent *CancelContext

	// children is an intrusive doubly-linked sibling list, giving O(1)
	// unlink when a child scope finishes.
	firstChild       *CancelContext
	nextSib, prevSib *CancelContext

	state     ctxState
	cause     error
	protected bool

	// cancelFn is installed by the one fibre currently suspended under
	// this context and cleared before that fibre resumes.
	cancelFn func(error)
}

func newRootContext() *CancelContext {
	return &CancelContext{}
}

// newCancelContext links a fresh active child under parent.
// Creation under a cancelling parent fails with the parent's cause.
func newCancelContext(parent *CancelContext) (*CancelContext, error) {
	switch parent.state {
	case ctxCancelling:
		return nil, cancelledOf(parent.cause)
	case ctxFinished:
		panic("fibre: new context under finished context")
	}
	cc := &CancelContext{parent: parent}
	cc.link()
	return cc, nil
}

// newInheritContext links a child that inherits the parent's state
// instead of failing: a fibre spawned under a cancelling parent still
// starts, and observes the inherited cancellation at its first
// suspension. Scope contexts use newCancelContext; fibre leaves use this.
func newInheritContext(parent *CancelContext) *CancelContext {
	if parent.state == ctxFinished {
		panic("fibre: new context under finished context")
	}
	cc := &CancelContext{parent: parent}
	cc.link()
	if parent.state == ctxCancelling {
		cc.state = ctxCancelling
		cc.cause = parent.cause
	}
	return cc
}

// newProtectedContext links a protected child under parent. Protected
// children are skipped by cancellation propagation, and creation succeeds
// even when the parent is already cancelling, so cleanup can still run.
func newProtectedContext(parent *CancelContext) *CancelContext {
	cc := &CancelContext{parent: parent, protected: true}
	cc.link()
	return cc
}

func (cc *CancelContext) link() {
	p := cc.parent
	cc.nextSib = p.firstChild
	if p.firstChild != nil {
		p.firstChild.prevSib = cc
	}
	p.firstChild = cc
}

func (cc *CancelContext) unlink() {
	p := cc.parent
	if p == nil {
		return
	}
	if cc.prevSib != nil {
		cc.prevSib.nextSib = cc.nextSib
	} else {
		p.firstChild = cc.nextSib
	}
	if cc.nextSib != nil {
		cc.nextSib.prevSib = cc.prevSib
	}
	cc.nextSib, cc.prevSib, cc.parent = nil, nil, nil
}

// Cancel marks the context and every non-protected descendant as
// cancelling with cause, then fires the installed cancel callbacks.
// Cancel is idempotent: only the first cause is stored.
func (cc *CancelContext) Cancel(cause error) {
	if cc.state != ctxActive {
		return
	}
	cc.state = ctxCancelling
	cc.cause = cause
	for child := cc.firstChild; child != nil; child = child.nextSib {
		if child.protected {
			continue
		}
		child.Cancel(cause)
	}
	if fn := cc.cancelFn; fn != nil {
		cc.cancelFn = nil
		fn(cancelledOf(cause))
	}
}

// Check returns nil when the context is active and *Cancelled carrying
// the stored cause when it is cancelling.
func (cc *CancelContext) Check() error {
	switch cc.state {
	case ctxActive:
		return nil
	case ctxCancelling:
		return cancelledOf(cc.cause)
	}
	panic("fibre: check on finished context")
}

// Err returns the stored cause when the context is cancelling, else nil.
func (cc *CancelContext) Err() error {
	if cc.state == ctxCancelling {
		return cc.cause
	}
	return nil
}

// finish retires the scope: the node is unlinked from its parent and
// rejects further use. Idempotent.
func (cc *CancelContext) finish() {
	if cc.state == ctxFinished {
		return
	}
	cc.state = ctxFinished
	cc.cancelFn = nil
	cc.unlink()
}

// setCancelFn installs the suspended fibre's cancel callback.
// At most one may be present; installing over an existing one is a
// programming error.
func (cc *CancelContext) setCancelFn(fn func(error)) {
	if cc.cancelFn != nil {
		panic("fibre: cancel callback already installed")
	}
	cc.cancelFn = fn
}

func (cc *CancelContext) clearCancelFn() {
	cc.cancelFn = nil
}

// Protect runs f with cancellation deferred: the fibre moves into a
// protected child context, so a cancellation arriving during f cannot
// interrupt it. After f returns successfully the surrounding context is
// re-checked and any cancellation that arrived is surfaced.
func Protect[T any](fb *Fibre, f func() (T, error)) (T, error) {
	parent := fb.ctx
	cc := newProtectedContext(parent)
	fb.ctx = cc
	v, err := f()
	fb.ctx = parent
	cc.finish()
	if err == nil {
		if cerr := parent.Check(); cerr != nil {
			var zero T
			return zero, cerr
		}
	}
	return v, err
}

// protectCall runs a release handler with cancellation deferred, without
// the trailing re-check: the handler's own error is what the caller
// aggregates, and an arrived cancellation must not displace it.
func protectCall(fb *Fibre, h func() error) (err error) {
	parent := fb.ctx
	cc := newProtectedContext(parent)
	fb.ctx = cc
	defer func() {
		fb.ctx = parent
		cc.finish()
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return h()
}

// Sub runs f in a fresh child context and finishes the child on every
// exit path. A *Cancelled failure originating inside the child is
// unwrapped when the surrounding context is not itself cancelling.
func Sub[T any](fb *Fibre, f func(*CancelContext) (T, error)) (T, error) {
	v, err := SubUnchecked(fb, f)
	if c, ok := err.(*Cancelled); ok && fb.ctx.Err() == nil {
		err = c.Cause
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// SubUnchecked is [Sub] without the unwrap: the child's failure is
// returned as observed, and the caller may inspect the child context's
// Err before it is finished by using the closure argument.
func SubUnchecked[T any](fb *Fibre, f func(*CancelContext) (T, error)) (T, error) {
	parent := fb.ctx
	cc, err := newCancelContext(parent)
	if err != nil {
		var zero T
		return zero, err
	}
	fb.ctx = cc
	defer func() {
		fb.ctx = parent
		cc.finish()
	}()
	return f(cc)
}

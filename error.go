// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var (
	// ErrSwitchFinished reports an operation attempted on a switch that
	// has already finished. Finished switches reject all new operations.
	ErrSwitchFinished = errors.New("fibre: switch finished")

	// ErrDeadlock is the cause the loop cancels the root context with when
	// no fibre is runnable, the injector is empty, and no waker is
	// outstanding.
	ErrDeadlock = errors.New("fibre: deadlock: no runnable fibre and no pending waker")

	// ErrTimeout is the cause installed by [WithTimeout] when the timer
	// fires before the body completes.
	ErrTimeout = errors.New("fibre: timeout")

	// errNotFirst cancels the losers of [Any] and [First].
	// It never escapes to callers.
	errNotFirst = errors.New("fibre: not first")
)

// Cancelled wraps the cause a cancellation context was cancelled with.
// The cause is preserved by identity: Unwrap returns the exact error value
// passed to [CancelContext.Cancel], so scope boundaries can decide whether
// to strip the wrapper without comparing messages.
//
// Cancelled is the runtime's own signaling value. It is never passed to
// user error callbacks, and a boundary re-raising it outside the context
// that caused it unwraps it first.
type Cancelled struct {
	Cause error
}

func (c *Cancelled) Error() string { return "fibre: cancelled: " + c.Cause.Error() }

func (c *Cancelled) Unwrap() error { return c.Cause }

func cancelledOf(cause error) *Cancelled { return &Cancelled{Cause: cause} }

// isCancelled reports whether err is a *Cancelled wrapper. The wrapper is
// always outermost by construction, so a direct assertion suffices.
func isCancelled(err error) bool {
	_, ok := err.(*Cancelled)
	return ok
}

// unwrapCancelled returns the cause of a *Cancelled wrapper, or err itself.
func unwrapCancelled(err error) error {
	if c, ok := err.(*Cancelled); ok {
		return c.Cause
	}
	return err
}

// Multiple preserves two or more independent failures in the order they
// were combined. It appears at most at the root of an error: combining two
// Multiple values flattens them.
type Multiple []error

func (m Multiple) Error() string {
	parts := make([]string, len(m))
	for i, e := range m {
		parts[i] = e.Error()
	}
	return "fibre: multiple failures: " + strings.Join(parts, "; ")
}

// Unwrap supports errors.Is and errors.As over every contained failure.
func (m Multiple) Unwrap() []error { return m }

// multipleOf combines two failures, flattening nested Multiple values.
func multipleOf(a, b error) Multiple {
	out := make(Multiple, 0, 2)
	for _, e := range [...]error{a, b} {
		if m, ok := e.(Multiple); ok {
			out = append(out, m...)
		} else {
			out = append(out, e)
		}
	}
	return out
}

// combineErr merges a newly observed failure into a switch's stored one.
// A real failure displaces cancellations; among cancellations the most
// recent wins; two real failures are preserved as Multiple.
func combineErr(old, add error) error {
	if old == nil {
		return add
	}
	if add == nil {
		return old
	}
	oc, ac := isCancelled(old), isCancelled(add)
	switch {
	case oc && !ac:
		return add
	case !oc && ac:
		return old
	case oc && ac:
		return add
	}
	return multipleOf(old, add)
}

// PanicError wraps a panic recovered from a fibre body together with the
// goroutine stack captured at the point of the panic. Panics are reported
// through the normal failure channels so a panicking child cannot skip
// release handlers or strand its siblings.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fibre: panic: %v\n\n%s", e.Value, e.Stack)
}

func newPanicError(v any) *PanicError {
	// runtime.Stack truncates gracefully if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}

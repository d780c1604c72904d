// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

import "code.hybscloud.com/kont"

type promiseState uint8

const (
	promisePending promiseState = iota
	promiseFulfilled
	promiseBroken
)

// pstate is the shared slot behind a Promise/Resolver pair.
type pstate[T any] struct {
	state   promiseState
	value   T
	err     error
	waiters waiterList[outcome]
}

// Promise is a value-or-error slot resolved exactly once. Awaiting a
// pending promise suspends the calling fibre; every awaiter is re-enqueued
// when the resolver fires.
type Promise[T any] struct {
	s *pstate[T]
}

// Resolver is the write side of a promise.
type Resolver[T any] struct {
	s *pstate[T]
}

// NewPromise creates a pending promise and its resolver.
func NewPromise[T any]() (*Promise[T], *Resolver[T]) {
	s := &pstate[T]{}
	return &Promise[T]{s: s}, &Resolver[T]{s: s}
}

// Fulfill resolves the promise with v, re-enqueueing all awaiters.
// Must be called on the loop thread; resolving twice is a programming
// error.
func (r *Resolver[T]) Fulfill(v T) {
	s := r.s
	if s.state != promisePending {
		panic("fibre: promise already resolved")
	}
	s.state = promiseFulfilled
	s.value = v
	s.waiters.fire(outcome{v: v})
}

// Break resolves the promise with err, re-enqueueing all awaiters.
// err must be non-nil.
func (r *Resolver[T]) Break(err error) {
	if err == nil {
		panic("fibre: promise broken with nil error")
	}
	s := r.s
	if s.state != promisePending {
		panic("fibre: promise already resolved")
	}
	s.state = promiseBroken
	s.err = err
	s.waiters.fire(outcome{err: err})
}

// Resolved reports whether the promise has been fulfilled or broken.
func (p *Promise[T]) Resolved() bool { return p.s.state != promisePending }

// Await returns the promise's value or error, suspending the calling
// fibre while pending. Awaiting a pending promise is a cancellation
// point: a cancel arriving during the wait resumes the fibre with the
// *Cancelled failure instead.
func (p *Promise[T]) Await(fb *Fibre) (T, error) {
	s := p.s
	if s.state == promisePending {
		if err := fb.ctx.Check(); err != nil {
			var zero T
			return zero, err
		}
		out := fb.enter(func(enq func(outcome)) {
			s.waiters.add(enq)
			fb.ctx.setCancelFn(func(err error) { enq(outcome{err: err}) })
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
	if s.state == promiseBroken {
		var zero T
		return zero, s.err
	}
	return s.value, nil
}

// AwaitResult waits for the promise without raising cancellation: no
// cancel callback is installed, so the wait is not a cancellation point
// and only the resolver can resume the fibre. Used where a result must be
// collected even while the surrounding context is being torn down.
func (p *Promise[T]) AwaitResult(fb *Fibre) kont.Either[error, T] {
	s := p.s
	if s.state == promisePending {
		out := fb.enter(func(enq func(outcome)) {
			s.waiters.add(enq)
		})
		if out.err != nil {
			return kont.Left[error, T](out.err)
		}
		if out.v == nil {
			var zero T
			return kont.Right[error](zero)
		}
		return kont.Right[error](out.v.(T))
	}
	if s.state == promiseBroken {
		return kont.Left[error, T](s.err)
	}
	return kont.Right[error](s.value)
}

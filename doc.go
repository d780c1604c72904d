// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fibre provides structured concurrency for lightweight cooperative
// tasks ("fibres") executing on a single-threaded event loop.
//
// Fibres are goroutines whose execution is serialized by the loop: exactly
// one fibre (or the loop itself) runs at any instant, and control transfers
// only at explicit suspension points. On top of this the package builds
// three tightly coupled primitives:
//
//   - Cancellation contexts: a tree of scopes each carrying at most one
//     cancellation cause. Cancelling a context cancels every non-protected
//     descendant before the call returns; suspended fibres under it are
//     re-enqueued with the cause, running fibres observe it at their next
//     suspension.
//   - Switches: scoped supervisors that count in-flight operations, collect
//     release handlers, and guarantee that every child fibre has completed
//     before the scope returns. Failures are aggregated, never lost.
//   - Combinators: [Fork], [ForkIgnore], [ForkSubIgnore], [Yield], [Pair],
//     [Both], [All], [Any], [First], [AwaitCancel].
//
// # Architecture
//
//   - Scheduling: [Run] drives a single-threaded cooperative loop. The ready
//     queue dispatches FIFO; control moves between goroutines by channel
//     handoff, so no locks guard fibre, switch, or context state.
//   - Suspension: [Enter] is the only suspension primitive. It hands the
//     caller a one-shot enqueue function ([code.hybscloud.com/kont.Affine]
//     enforces the single resumption) and parks the fibre until a producer
//     fires it.
//   - External wakeups: producers on other goroutines go through a bounded
//     lock-free SPSC injector ([code.hybscloud.com/lfq]) with
//     [code.hybscloud.com/iox.Backoff] backpressure. [NewWaker] is the
//     one-shot handle; [WithTimeout] builds on it.
//   - Results: [Promise] carries a value-or-error slot. Await is a
//     cancellation point; AwaitResult is not and returns
//     [code.hybscloud.com/kont.Either].
//
// # Failure model
//
// Failures travel as values. [*Cancelled] wraps the originating cause by
// identity and is the runtime's own signal: it is never reported to user
// error callbacks and is stripped when a scope boundary re-raises it outside
// the context that caused it. Independent failures are preserved in order
// by [Multiple], which is flattened and never nested. Release handlers run
// exactly once, in LIFO order, with cancellation deferred.
//
// # Example
//
//	sum, err := fibre.Run(func(fb *fibre.Fibre) (int, error) {
//		a, b, err := fibre.Pair(fb,
//			func(fb *fibre.Fibre) (int, error) { return 1, nil },
//			func(fb *fibre.Fibre) (int, error) { return 2, fibre.Yield(fb) },
//		)
//		return a + b, err
//	})
package fibre

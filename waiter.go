// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

// Intrusive waiter lists back every wait queue in the runtime: promise
// awaiters, switch cancel hooks. Add pushes to the front, so firing is
// LIFO with respect to registration. All operations are O(1); removal by
// handle stays valid (as a no-op) after the waiter has fired.

// Waiter is a handle to an entry in a waiter list. The zero value is a
// detached handle whose Remove is a no-op.
type Waiter[T any] struct {
	fn         func(T)
	next, prev *Waiter[T]
	list       *waiterList[T]
}

// Remove detaches the waiter so it will not fire.
// It reports whether the waiter was still attached; removing a waiter
// that has already fired or been removed returns false.
func (w *Waiter[T]) Remove() bool {
	if w.list == nil {
		return false
	}
	w.detach()
	return true
}

func (w *Waiter[T]) detach() {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		w.list.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	}
	w.next, w.prev, w.list = nil, nil, nil
}

// waiterList is an intrusive doubly-linked list of pending waiters.
// The zero value is an empty list.
type waiterList[T any] struct {
	head *Waiter[T]
}

// add registers fn and returns its removal handle.
func (l *waiterList[T]) add(fn func(T)) *Waiter[T] {
	w := &Waiter[T]{fn: fn, list: l, next: l.head}
	if l.head != nil {
		l.head.prev = w
	}
	l.head = w
	return w
}

// fire invokes and detaches every waiter exactly once, most recently
// added first. Each waiter is detached before its function runs, so a
// re-entrant Remove on an already-fired handle is a no-op.
func (l *waiterList[T]) fire(x T) {
	for l.head != nil {
		w := l.head
		w.detach()
		w.fn(x)
	}
}

func (l *waiterList[T]) empty() bool { return l.head == nil }

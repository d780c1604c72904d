// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

import "time"

// WithTimeout runs f under a child context that is cancelled with
// [ErrTimeout] when d elapses first. The timer fires on its own goroutine
// and reaches the loop through a [Waker], so a loop idling on the wait
// does not report deadlock. Returns ErrTimeout when the deadline caused
// the failure, f's own result otherwise.
func WithTimeout[T any](fb *Fibre, d time.Duration, f func(*Fibre) (T, error)) (T, error) {
	v, err := Sub(fb, func(cc *CancelContext) (T, error) {
		w := NewWaker(fb, func() { cc.Cancel(ErrTimeout) })
		t := time.AfterFunc(d, func() { w.Wake() })
		defer func() {
			t.Stop()
			w.Discard()
		}()
		return f(fb)
	})
	if err != nil {
		var zero T
		if unwrapCancelled(err) == ErrTimeout {
			return zero, ErrTimeout
		}
		return zero, err
	}
	return v, nil
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre_test

import (
	"errors"
	"testing"
	"testing/quick"

	"code.hybscloud.com/fibre"
)

// TestPropertyReleaseLIFO proves that for any number of registered
// release handlers, each runs exactly once and strictly in reverse
// registration order, whether the scope succeeds or fails.
func TestPropertyReleaseLIFO(t *testing.T) {
	property := func(n uint8, fail bool) bool {
		k := int(n%24) + 1
		boom := errors.New("boom")
		var order []int
		_, err := fibre.Run(func(fb *fibre.Fibre) (int, error) {
			return fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
				for i := 0; i < k; i++ {
					if err := sw.OnRelease(func() error {
						order = append(order, i)
						return nil
					}); err != nil {
						return 0, err
					}
				}
				if fail {
					return 0, boom
				}
				return 0, nil
			})
		})
		if fail && err != boom {
			return false
		}
		if !fail && err != nil {
			return false
		}
		if len(order) != k {
			return false
		}
		for i, id := range order {
			if id != k-1-i {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

// TestPropertyAnySynchronousWinner proves that when every candidate
// completes without suspending, the first spawned always wins and the
// losers are dropped.
func TestPropertyAnySynchronousWinner(t *testing.T) {
	property := func(n uint8) bool {
		k := int(n%8) + 1
		fs := make([]func(*fibre.Fibre) (int, error), k)
		for i := range fs {
			fs[i] = func(*fibre.Fibre) (int, error) { return i, nil }
		}
		v, err := fibre.Run(func(fb *fibre.Fibre) (int, error) {
			return fibre.Any(fb, fs)
		})
		return err == nil && v == 0
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

// TestPropertyYieldRoundRobin proves FIFO dispatch: n fibres yielding r
// times interleave in strict rounds.
func TestPropertyYieldRoundRobin(t *testing.T) {
	property := func(n, r uint8) bool {
		fibres := int(n%5) + 1
		rounds := int(r%4) + 1
		var trace []int
		fs := make([]func(*fibre.Fibre) error, fibres)
		for i := range fs {
			fs[i] = func(fb *fibre.Fibre) error {
				for round := 0; round < rounds; round++ {
					trace = append(trace, i)
					if err := fibre.Yield(fb); err != nil {
						return err
					}
				}
				return nil
			}
		}
		_, err := fibre.Run(func(fb *fibre.Fibre) (int, error) {
			return 0, fibre.All(fb, fs)
		})
		if err != nil {
			return false
		}
		if len(trace) != fibres*rounds {
			return false
		}
		for idx, id := range trace {
			if id != idx%fibres {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

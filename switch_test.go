// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fibre"
)

// Registering h1, h2, h3 and then failing runs h3, h2, h1 before the
// failure propagates.
func TestReleaseLIFOOnFailure(t *testing.T) {
	boom := errors.New("boom")
	var trace []string
	err := run(t, func(fb *fibre.Fibre) error {
		_, rerr := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			for _, name := range []string{"h1", "h2", "h3"} {
				require.NoError(t, sw.OnRelease(func() error {
					trace = append(trace, name)
					return nil
				}))
			}
			return 0, boom
		})
		assert.Equal(t, boom, rerr)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", "h2", "h1"}, trace)
}

func TestReleaseExactlyOnceOnSuccess(t *testing.T) {
	counts := map[string]int{}
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			for _, name := range []string{"a", "b"} {
				require.NoError(t, sw.OnRelease(func() error {
					counts[name]++
					return nil
				}))
			}
			return 7, nil
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, counts)
}

func TestReleaseErrorAggregates(t *testing.T) {
	boom := errors.New("boom")
	rerr := errors.New("release failed")
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			require.NoError(t, sw.OnRelease(func() error { return rerr }))
			return 0, boom
		})
		m, ok := err.(fibre.Multiple)
		require.True(t, ok, "got %v, want Multiple", err)
		require.Len(t, m, 2)
		assert.Equal(t, boom, m[0])
		assert.Equal(t, rerr, m[1])
		return nil
	})
	require.NoError(t, err)
}

// A release handler failing on an otherwise clean switch is the failure.
func TestReleaseErrorAloneFails(t *testing.T) {
	rerr := errors.New("release failed")
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			require.NoError(t, sw.OnRelease(func() error { return rerr }))
			return 0, nil
		})
		return err
	})
	assert.Equal(t, rerr, err)
}

// A release handler registered while the switch is turning off still runs.
func TestReleaseDuringTeardown(t *testing.T) {
	boom := errors.New("boom")
	var trace []string
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			require.NoError(t, sw.OnRelease(func() error {
				trace = append(trace, "outer")
				return nil
			}))
			require.NoError(t, sw.OnRelease(func() error {
				// Registered mid-teardown: must still run, after this
				// handler returns.
				require.NoError(t, sw.OnRelease(func() error {
					trace = append(trace, "late")
					return nil
				}))
				trace = append(trace, "inner")
				return nil
			}))
			return 0, boom
		})
		assert.Equal(t, boom, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inner", "late", "outer"}, trace)
}

func TestFinishedSwitchRejectsEverything(t *testing.T) {
	err := run(t, func(fb *fibre.Fibre) error {
		var escaped *fibre.Switch
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			escaped = sw
			return 0, nil
		})
		require.NoError(t, err)

		assert.Equal(t, fibre.ErrSwitchFinished, escaped.Check())
		assert.Equal(t, fibre.ErrSwitchFinished, escaped.OnRelease(func() error { return nil }))
		_, err = escaped.AddCancelHook(func(error) {})
		assert.Equal(t, fibre.ErrSwitchFinished, err)
		_, err = fibre.WithOp(escaped, func() (int, error) { return 0, nil })
		assert.Equal(t, fibre.ErrSwitchFinished, err)
		return nil
	})
	require.NoError(t, err)
}

// Adding then removing a cancel hook before cancellation keeps it from
// running; a later-added hook runs before an earlier survivor.
func TestCancelHookRemovalAndOrder(t *testing.T) {
	boom := errors.New("boom")
	var fired []string
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			h1, err := sw.AddCancelHook(func(error) { fired = append(fired, "h1") })
			require.NoError(t, err)
			_, err = sw.AddCancelHook(func(err error) {
				assert.Equal(t, boom, err)
				fired = append(fired, "h2")
			})
			require.NoError(t, err)
			require.True(t, h1.Remove())
			_, err = sw.AddCancelHook(func(error) { fired = append(fired, "h3") })
			require.NoError(t, err)
			return 0, boom
		})
		assert.Equal(t, boom, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"h3", "h2"}, fired)
}

// A hook added after the transition runs immediately.
func TestCancelHookAfterTurnOff(t *testing.T) {
	boom := errors.New("boom")
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			sw.TurnOff(boom)
			fired := false
			h, err := sw.AddCancelHook(func(err error) {
				assert.Equal(t, boom, err)
				fired = true
			})
			require.NoError(t, err)
			assert.True(t, fired)
			assert.False(t, h.Remove())
			return 0, nil
		})
		assert.Equal(t, boom, err)
		return nil
	})
	require.NoError(t, err)
}

func TestWithOpWhileTurningOff(t *testing.T) {
	boom := errors.New("boom")
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			sw.TurnOff(boom)
			_, err := fibre.WithOp(sw, func() (int, error) {
				t.Error("operation admitted on a switch turning off")
				return 0, nil
			})
			c, ok := err.(*fibre.Cancelled)
			require.True(t, ok, "got %v, want *Cancelled", err)
			assert.Equal(t, boom, c.Cause)
			return 0, nil
		})
		assert.Equal(t, boom, err)
		return nil
	})
	require.NoError(t, err)
}

// Nested switch cancelled from an outer sibling: the inner scope observes
// the wrapped Cancelled(cause); the outer boundary re-raises the cause.
func TestNestedSwitchObservesWrappedCause(t *testing.T) {
	boom := errors.New("exit")
	var inner error
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, outer *fibre.Switch) (int, error) {
			fibre.ForkIgnore(fb, outer, func(fb *fibre.Fibre) error {
				_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, _ *fibre.Switch) (int, error) {
					return 0, fibre.AwaitCancel(fb)
				})
				inner = err
				return err
			})
			fibre.ForkIgnore(fb, outer, func(fb *fibre.Fibre) error {
				if err := fibre.Yield(fb); err != nil {
					return err
				}
				return boom
			})
			return 0, nil
		})
		assert.Equal(t, boom, err, "outer handler must observe the unwrapped cause")
		return nil
	})
	require.NoError(t, err)
	c, ok := inner.(*fibre.Cancelled)
	require.True(t, ok, "inner handler observed %v, want *Cancelled", inner)
	assert.Equal(t, boom, c.Cause)
}

// SubSwitch reports a non-cancellation failure to onError; a handled
// failure does not fail the parent switch.
func TestSubSwitchOnError(t *testing.T) {
	boom := errors.New("boom")
	var reported error
	err := run(t, func(fb *fibre.Fibre) error {
		v, rerr := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			serr := fibre.SubSwitch(fb, sw, func(err error) error {
				reported = err
				return nil
			}, func(fb *fibre.Fibre, child *fibre.Switch) error {
				return boom
			})
			require.NoError(t, serr)
			return 3, nil
		})
		assert.Equal(t, 3, v)
		return rerr
	})
	require.NoError(t, err)
	assert.Equal(t, boom, reported)
}

func TestSubSwitchOnErrorFailure(t *testing.T) {
	boom := errors.New("boom")
	oops := errors.New("handler failed")
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			serr := fibre.SubSwitch(fb, sw, func(error) error {
				return oops
			}, func(fb *fibre.Fibre, child *fibre.Switch) error {
				return boom
			})
			require.NoError(t, serr)
			return 0, nil
		})
		m, ok := err.(fibre.Multiple)
		require.True(t, ok, "got %v, want Multiple", err)
		require.Len(t, m, 2)
		assert.Equal(t, boom, m[0])
		assert.Equal(t, oops, m[1])
		return nil
	})
	require.NoError(t, err)
}

// A panic in the switch body is contained as *PanicError and still runs
// release handlers.
func TestSwitchBodyPanicContained(t *testing.T) {
	released := false
	err := run(t, func(fb *fibre.Fibre) error {
		_, err := fibre.RunSwitch(fb, func(fb *fibre.Fibre, sw *fibre.Switch) (int, error) {
			require.NoError(t, sw.OnRelease(func() error {
				released = true
				return nil
			}))
			panic("kaboom")
		})
		var pe *fibre.PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "kaboom", pe.Value)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, released)
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fibre

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// defaultInjectorCapacity bounds the cross-goroutine injector queue.
// Producers that find it full retry with adaptive backoff, so the bound
// trades producer latency for a fixed ring allocation.
const defaultInjectorCapacity = 64

type config struct {
	injectorCap int
	onDeadlock  func()
}

// Option configures a [Run] invocation.
type Option func(*config)

func defaultLoopConfig() config {
	return config{injectorCap: defaultInjectorCapacity}
}

// WithInjectorCapacity sets the capacity of the cross-goroutine injector
// queue. It panics if n is not positive. A capacity of 1 is raised to 2,
// the smallest ring the injector queue supports.
func WithInjectorCapacity(n int) Option {
	if n <= 0 {
		panic("fibre: injector capacity must be positive")
	}
	return func(c *config) { c.injectorCap = n }
}

// WithOnDeadlock registers a diagnostic hook invoked on the loop thread
// when deadlock is detected, before the root context is cancelled with
// [ErrDeadlock].
func WithOnDeadlock(fn func()) Option {
	return func(c *config) { c.onDeadlock = fn }
}

// pending is a ready-queue entry: a fibre and the value resuming it.
type pending struct {
	fb  *Fibre
	out outcome
}

// readyQueue is the loop-private FIFO run queue. Single-threaded, so a
// growable slice ring with a head index suffices; the bounded lfq SPSC
// ring serves the cross-goroutine injector instead, where unbounded
// growth is not wanted.
type readyQueue struct {
	buf  []pending
	head int
}

func (q *readyQueue) push(p pending) {
	q.buf = append(q.buf, p)
}

func (q *readyQueue) pop() (pending, bool) {
	if q.head == len(q.buf) {
		return pending{}, false
	}
	p := q.buf[q.head]
	q.buf[q.head] = pending{}
	q.head++
	if q.head == len(q.buf) {
		q.buf = q.buf[:0]
		q.head = 0
	}
	return p, true
}

func (q *readyQueue) empty() bool { return q.head == len(q.buf) }

// Loop is the single-threaded cooperative scheduler. It owns the FIFO
// ready queue and dispatches one fibre at a time; the current fibre runs
// until it suspends or completes. Cross-goroutine producers reach the
// loop only through the injector.
type Loop struct {
	// gate receives control back from whichever fibre is running.
	gate chan struct{}

	ready readyQueue

	// injector carries thunks from other goroutines onto the loop
	// thread. The SPSC queue's single producer side is serialized by
	// injectMu; the loop is the only consumer.
	injector lfq.SPSC[func()]
	injectMu sync.Mutex

	// external counts outstanding wakers plus injected-but-undrained
	// thunks. Zero means nothing outside the loop can make progress.
	external atomix.Uint32

	root *CancelContext
	cfg  config
}

func newLoop(cfg config) *Loop {
	l := &Loop{
		gate: make(chan struct{}),
		root: newRootContext(),
		cfg:  cfg,
	}
	// The lfq ring needs at least two slots; smaller capacities are raised.
	l.injector.Init(max(cfg.injectorCap, 2))
	return l
}

// newFibre allocates a fibre whose context is a fresh leaf under parent.
// The leaf inherits a cancellation already in effect; admission checks
// belong to the spawning combinator.
func (l *Loop) newFibre(parent *CancelContext) *Fibre {
	return &Fibre{
		loop:   l,
		ctx:    newInheritContext(parent),
		gate:   make(chan outcome),
		serial: nextSerial(),
	}
}

// fibreMain is the goroutine body of every fibre: wait for the first
// dispatch, run, retire the leaf context, yield control a final time.
func fibreMain(fb *Fibre, run func()) {
	<-fb.gate
	run()
	fb.ctx.finish()
	fb.handoff()
}

// spawnQueued starts the fibre goroutine parked and appends it to the
// ready queue; the body runs when the loop dispatches it.
func (l *Loop) spawnQueued(fb *Fibre, run func()) {
	go fibreMain(fb, run)
	l.ready.push(pending{fb: fb})
}

// spawnNow transfers control to the new fibre immediately; the spawner
// resumes as soon as the child first suspends or completes.
func (l *Loop) spawnNow(parent, fb *Fibre, run func()) {
	go fibreMain(fb, run)
	fb.resumeTo = parent
	fb.gate <- outcome{}
	<-parent.gate
}

// dispatch resumes one fibre and blocks until control returns.
func (l *Loop) dispatch(p pending) {
	p.fb.gate <- p.out
	<-l.gate
}

// inject enqueues a thunk for the loop thread, retrying with adaptive
// backoff while the bounded ring is full. Safe for concurrent producers:
// the mutex keeps the SPSC queue single-producer.
func (l *Loop) inject(fn func()) {
	l.injectMu.Lock()
	defer l.injectMu.Unlock()
	var bo iox.Backoff
	for l.injector.Enqueue(&fn) != nil {
		bo.Wait()
	}
}

func (l *Loop) drainInjector() {
	for {
		fn, err := l.injector.Dequeue()
		if err != nil {
			return
		}
		fn()
	}
}

// run dispatches until done flips. When no fibre is runnable it drains
// the injector; with wakers outstanding it polls with backoff, otherwise
// it reports deadlock by cancelling the root context, so suspended fibres
// unwind with [ErrDeadlock] as the cause. If even that wakes nothing, the
// remaining sleepers are unwakeable and the loop panics.
func (l *Loop) run(done *bool) {
	var bo iox.Backoff
	deadlocked := false
	for !*done {
		if p, ok := l.ready.pop(); ok {
			bo.Reset()
			deadlocked = false
			l.dispatch(p)
			continue
		}
		l.drainInjector()
		if !l.ready.empty() {
			continue
		}
		if l.external.Load() > 0 {
			bo.Wait()
			continue
		}
		if !deadlocked {
			deadlocked = true
			if l.cfg.onDeadlock != nil {
				l.cfg.onDeadlock()
			}
			l.root.Cancel(ErrDeadlock)
			continue
		}
		panic("fibre: deadlock: suspended fibres cannot be woken")
	}
}

// Run executes body as the main fibre of a fresh loop and returns its
// result once every fibre has completed. The calling goroutine becomes
// the loop thread. A *Cancelled failure reaching the root is unwrapped:
// there is no surrounding context left to observe the wrapper.
func Run[T any](body func(*Fibre) (T, error), opts ...Option) (T, error) {
	cfg := defaultLoopConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	l := newLoop(cfg)
	main := l.newFibre(l.root)

	var (
		mv   T
		merr error
		done bool
	)
	l.spawnQueued(main, func() {
		mv, merr = runFibreBody(main, body)
		done = true
	})
	l.run(&done)
	l.root.finish()
	if c, ok := merr.(*Cancelled); ok {
		merr = c.Cause
	}
	return mv, merr
}

// Package kernel implements the discrete-event simulation core: a virtual
// clock, a min-heap of timed events, and cooperative tasks that suspend and
// resume across event firings without ever running concurrently with each
// other.
//
// Go has no generator/coroutine primitive, so tasks are goroutines parked
// behind a pair of unbuffered rendezvous channels. A task only ever "runs
// live" between being sent its resume value and sending back its yielded
// signal; at all other times it is blocked on a channel receive. This keeps
// the strict single-task-at-a-time scheduling contract while letting
// protocol code read as ordinary sequential Go rather than as a chain of
// callbacks.
package kernel

import (
	"container/heap"
	"errors"
)

// ErrTimeout is returned (wrapped inside an Event's error, or directly from
// Await helpers) when a timeout wins a race against a reply.
var ErrTimeout = errors.New("kernel: timeout")

// result is what a kernel sends down a Task's resume channel to wake it.
type result struct {
	val interface{}
	err error
}

// Task is a cooperative unit of execution. Obtain one via Kernel.Spawn; the
// zero value is not usable.
type Task struct {
	resume  chan result
	yielded chan struct{}
	done    bool
}

// Event is a one-shot occurrence that a Task can suspend on. Firing an Event
// more than once is a no-op after the first.
type Event struct {
	fired  bool
	val    interface{}
	err    error
	onFire func(val interface{}, err error)
}

// NewEvent returns a fresh, unfired event.
func NewEvent() *Event { return &Event{} }

// Fired reports whether the event has already fired.
func (e *Event) Fired() bool { return e.fired }

// Value returns the value and error the event fired with (zero/nil before
// firing).
func (e *Event) Value() (interface{}, error) { return e.val, e.err }

// Fire resolves the event with the given value/error. Firing an already-
// fired event is a no-op (this is how orphaned timeouts and late replies
// are silently ignored once a task has moved on).
func (e *Event) Fire(val interface{}, err error) {
	if e.fired {
		return
	}
	e.fired = true
	e.val, e.err = val, err
	if cb := e.onFire; cb != nil {
		e.onFire = nil
		cb(val, err)
	}
}

// scheduled is one entry in the kernel's timing heap.
type scheduled struct {
	time float64
	seq  uint64
	fn   func()
}

type schedHeap []*scheduled

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}
func (h schedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *schedHeap) Push(x interface{}) {
	*h = append(*h, x.(*scheduled))
}
func (h *schedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Kernel owns the virtual clock and the pending-event heap. A Kernel value
// must be created with New and is not safe for concurrent use from more
// than one goroutine driving Run/RunUntil — the single-threaded-cooperative
// contract means only the driver goroutine ever pops the heap.
type Kernel struct {
	now  float64
	seq  uint64
	heap schedHeap
}

// New returns an empty Kernel at virtual time zero.
func New() *Kernel {
	k := &Kernel{}
	heap.Init(&k.heap)
	return k
}

// Now returns the current virtual time.
func (k *Kernel) Now() float64 { return k.now }

// Pending reports how many events remain in the heap.
func (k *Kernel) Pending() int { return k.heap.Len() }

func (k *Kernel) schedule(delay float64, fn func()) {
	k.seq++
	heap.Push(&k.heap, &scheduled{time: k.now + delay, seq: k.seq, fn: fn})
}

// ScheduleAfter runs fn at now+delay, on the kernel's own driving goroutine.
// fn must not block; it is meant for simple state mutation (e.g. enqueueing
// a packet, firing a plain timer). Use Spawn for anything that needs to
// Await.
func (k *Kernel) ScheduleAfter(delay float64, fn func()) {
	if delay < 0 {
		delay = 0
	}
	k.schedule(delay, fn)
}

// NewTimeout returns an Event that fires with ErrTimeout after delay.
func (k *Kernel) NewTimeout(delay float64) *Event {
	ev := NewEvent()
	k.ScheduleAfter(delay, func() { ev.Fire(nil, ErrTimeout) })
	return ev
}

// Spawn starts fn as a cooperative task. fn does not run immediately; it is
// scheduled to begin at the current virtual time (delay zero), after the
// caller's own step has yielded or completed, preserving single-stepping.
func (k *Kernel) Spawn(fn func(t *Task)) *Task {
	t := &Task{resume: make(chan result), yielded: make(chan struct{})}
	go func() {
		<-t.resume
		fn(t)
		t.done = true
		t.yielded <- struct{}{}
	}()
	k.schedule(0, func() {
		t.resume <- result{}
		<-t.yielded
	})
	return t
}

// Await suspends t until ev fires, returning ev's value and error.
func (k *Kernel) Await(t *Task, ev *Event) (interface{}, error) {
	if ev.fired {
		return ev.val, ev.err
	}
	ev.onFire = func(val interface{}, err error) {
		t.resume <- result{val, err}
		<-t.yielded
	}
	t.yielded <- struct{}{}
	r := <-t.resume
	return r.val, r.err
}

// Sleep suspends t for delay units of virtual time.
func (k *Kernel) Sleep(t *Task, delay float64) {
	k.Await(t, k.NewTimeout(delay))
}

// Run drains the heap until empty.
func (k *Kernel) Run() {
	for k.heap.Len() > 0 {
		se := heap.Pop(&k.heap).(*scheduled)
		k.now = se.time
		se.fn()
	}
}

// RunUntil drains the heap until empty or until the next event's time
// exceeds maxTime, in which case the clock is advanced to maxTime and the
// remaining events are left pending (never fired).
func (k *Kernel) RunUntil(maxTime float64) {
	for k.heap.Len() > 0 {
		if k.heap[0].time > maxTime {
			break
		}
		se := heap.Pop(&k.heap).(*scheduled)
		k.now = se.time
		se.fn()
	}
	if k.now < maxTime {
		k.now = maxTime
	}
}

package kernel

// AnyOf suspends t until the first of evs fires, and returns the winning
// index together with its value/error. Every later firing among the
// remaining evs is a no-op: this is how the kernel implements "the reply
// that arrives after the client has already timed out is silently
// ignored" without any explicit cancellation machinery.
func (k *Kernel) AnyOf(t *Task, evs ...*Event) (int, interface{}, error) {
	done := false
	for i, ev := range evs {
		i, ev := i, ev
		if ev.fired {
			// Already resolved before we even registered: treat as the
			// immediate winner, first such event in argument order.
			if !done {
				done = true
				return i, ev.val, ev.err
			}
			continue
		}
		ev.onFire = func(val interface{}, err error) {
			if done {
				return
			}
			done = true
			t.resume <- result{anyOfResult{i, val}, err}
			<-t.yielded
		}
	}
	t.yielded <- struct{}{}
	r := <-t.resume
	wa := r.val.(anyOfResult)
	return wa.idx, wa.val, r.err
}

type anyOfResult struct {
	idx int
	val interface{}
}

// AllResult is the outcome of AllOf.
type AllResult struct {
	// Values holds the firing value of each input event, indexed the same
	// way as the evs slice passed in. Entries for events that had not yet
	// fired when a timeout won are left at their zero value.
	Values []interface{}
	Errs   []error
	// Got reports, per index, whether that event had fired when the call
	// returned.
	Got []bool
	// TimedOut is true if timeoutEv fired before every ev in evs had.
	TimedOut bool
}

// AllOf suspends t until every event in evs has fired, or until timeoutEv
// fires first (pass nil to wait unconditionally for all of evs).
func (k *Kernel) AllOf(t *Task, evs []*Event, timeoutEv *Event) AllResult {
	n := len(evs)
	values := make([]interface{}, n)
	errs := make([]error, n)
	got := make([]bool, n)
	remaining := n
	done := false

	finish := func(timedOut bool) {
		if done {
			return
		}
		done = true
		res := AllResult{Values: values, Errs: errs, Got: got, TimedOut: timedOut}
		t.resume <- result{res, nil}
		<-t.yielded
	}

	for i, ev := range evs {
		i, ev := i, ev
		if ev.fired {
			values[i], errs[i], got[i] = ev.val, ev.err, true
			remaining--
			continue
		}
		ev.onFire = func(val interface{}, err error) {
			if done {
				return
			}
			values[i], errs[i], got[i] = val, err, true
			remaining--
			if remaining == 0 {
				finish(false)
			}
		}
	}
	if remaining == 0 {
		return AllResult{Values: values, Errs: errs, Got: got, TimedOut: false}
	}
	if timeoutEv != nil {
		if timeoutEv.fired {
			return AllResult{Values: values, Errs: errs, Got: got, TimedOut: true}
		}
		timeoutEv.onFire = func(val interface{}, err error) {
			finish(true)
		}
	}

	t.yielded <- struct{}{}
	r := <-t.resume
	return r.val.(AllResult)
}

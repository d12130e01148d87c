package kernel

import "testing"

func TestScheduleAfterOrdersByTimeThenSequence(t *testing.T) {
	k := New()
	var order []int
	k.ScheduleAfter(10, func() { order = append(order, 1) })
	k.ScheduleAfter(5, func() { order = append(order, 2) })
	k.ScheduleAfter(5, func() { order = append(order, 3) })
	k.Run()

	want := []int{2, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSpawnAndSleepAdvancesClock(t *testing.T) {
	k := New()
	var finishedAt float64 = -1
	k.Spawn(func(task *Task) {
		k.Sleep(task, 42)
		finishedAt = k.Now()
	})
	k.Run()
	if finishedAt != 42 {
		t.Fatalf("finishedAt = %v, want 42", finishedAt)
	}
}

func TestAwaitResumesWithFireValue(t *testing.T) {
	k := New()
	ev := NewEvent()
	var got interface{}
	k.Spawn(func(task *Task) {
		v, err := k.Await(task, ev)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got = v
	})
	k.ScheduleAfter(5, func() { ev.Fire("hello", nil) })
	k.Run()
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}
}

func TestAnyOfReplyBeatsTimeout(t *testing.T) {
	k := New()
	reply := NewEvent()
	var winIdx int
	var winVal interface{}
	var winErr error
	k.Spawn(func(task *Task) {
		timeout := k.NewTimeout(100)
		winIdx, winVal, winErr = k.AnyOf(task, reply, timeout)
	})
	k.ScheduleAfter(10, func() { reply.Fire("packet", nil) })
	k.Run()

	if winErr != nil {
		t.Fatalf("unexpected error: %v", winErr)
	}
	if winIdx != 0 || winVal != "packet" {
		t.Fatalf("winIdx=%d winVal=%v, want 0 packet", winIdx, winVal)
	}
}

func TestAnyOfTimeoutBeatsLateReply(t *testing.T) {
	k := New()
	reply := NewEvent()
	var winIdx int
	var winErr error
	k.Spawn(func(task *Task) {
		timeout := k.NewTimeout(10)
		winIdx, _, winErr = k.AnyOf(task, reply, timeout)
	})
	// reply fires after the timeout; it must be ignored.
	k.ScheduleAfter(50, func() { reply.Fire("too late", nil) })
	k.Run()

	if winErr != ErrTimeout {
		t.Fatalf("winErr = %v, want ErrTimeout", winErr)
	}
	if winIdx != 1 {
		t.Fatalf("winIdx = %d, want 1 (timeout)", winIdx)
	}
}

func TestAllOfWaitsForEveryEvent(t *testing.T) {
	k := New()
	a, b, c := NewEvent(), NewEvent(), NewEvent()
	var res AllResult
	k.Spawn(func(task *Task) {
		res = k.AllOf(task, []*Event{a, b, c}, nil)
	})
	k.ScheduleAfter(1, func() { a.Fire(1, nil) })
	k.ScheduleAfter(3, func() { b.Fire(2, nil) })
	k.ScheduleAfter(2, func() { c.Fire(3, nil) })
	k.Run()

	if res.TimedOut {
		t.Fatalf("expected no timeout")
	}
	for i, want := range []int{1, 2, 3} {
		if !res.Got[i] || res.Values[i] != want {
			t.Fatalf("result[%d] = %v (got=%v), want %v", i, res.Values[i], res.Got[i], want)
		}
	}
}

func TestAllOfPartialOnTimeout(t *testing.T) {
	k := New()
	a, b := NewEvent(), NewEvent()
	var res AllResult
	k.Spawn(func(task *Task) {
		timeout := k.NewTimeout(5)
		res = k.AllOf(task, []*Event{a, b}, timeout)
	})
	k.ScheduleAfter(1, func() { a.Fire("early", nil) })
	k.ScheduleAfter(50, func() { b.Fire("never observed", nil) })
	k.Run()

	if !res.TimedOut {
		t.Fatalf("expected timeout")
	}
	if !res.Got[0] || res.Values[0] != "early" {
		t.Fatalf("expected a's value to have arrived before timeout")
	}
	if res.Got[1] {
		t.Fatalf("expected b to not have arrived before timeout")
	}
}

func TestNestedFireUnwindsInOrder(t *testing.T) {
	// A reply firing deep inside another task's step must fully run the
	// resumed task before control returns to the firer.
	k := New()
	var trace []string
	outer := NewEvent()
	inner := NewEvent()

	k.Spawn(func(task *Task) {
		k.Await(task, outer)
		trace = append(trace, "inner-resumed")
	})
	k.Spawn(func(task *Task) {
		k.Await(task, inner)
		trace = append(trace, "outer-fires-reply")
		outer.Fire(nil, nil)
		trace = append(trace, "outer-continues")
	})
	k.ScheduleAfter(1, func() { inner.Fire(nil, nil) })
	k.Run()

	want := []string{"outer-fires-reply", "inner-resumed", "outer-continues"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestRunUntilLeavesLaterEventsPending(t *testing.T) {
	k := New()
	ran := 0
	k.ScheduleAfter(5, func() { ran++ })
	k.ScheduleAfter(50, func() { ran++ })
	k.RunUntil(10)
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	if k.Now() != 10 {
		t.Fatalf("Now() = %v, want 10", k.Now())
	}
	if k.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", k.Pending())
	}
}

package core

import "testing"

func resetScheduler() {
	timerList = nil
	currentTime = 0
	SetTime(0)
}

func TestTimerDispatchOrder(t *testing.T) {
	resetScheduler()
	defer resetScheduler()

	var fired []uint32
	handler := func(tm *Timer) uint8 {
		fired = append(fired, tm.WakeTime)
		return SF_DONE
	}

	timers := []*Timer{
		{WakeTime: 300, Handler: handler},
		{WakeTime: 100, Handler: handler},
		{WakeTime: 200, Handler: handler},
	}
	for _, tm := range timers {
		ScheduleTimer(tm)
	}

	SetTime(250)
	ProcessTimers()
	if len(fired) != 2 || fired[0] != 100 || fired[1] != 200 {
		t.Fatalf("Expected timers 100 and 200 to fire in order, got %v", fired)
	}

	SetTime(300)
	ProcessTimers()
	if len(fired) != 3 || fired[2] != 300 {
		t.Errorf("Expected timer 300 to fire, got %v", fired)
	}
}

func TestTimerDispatchAcrossWrap(t *testing.T) {
	resetScheduler()
	defer resetScheduler()

	count := 0
	tm := &Timer{
		WakeTime: 0xFFFFFF00,
		Handler: func(tm *Timer) uint8 {
			count++
			tm.WakeTime += 0x200 // Wraps past zero
			return SF_RESCHEDULE
		},
	}
	ScheduleTimer(tm)

	SetTime(0xFFFFFF00)
	ProcessTimers()
	if count != 1 {
		t.Fatalf("Expected first fire, got %d", count)
	}

	// 0x100 is after 0xFFFFFF00 once the clock has wrapped
	SetTime(0x80)
	ProcessTimers()
	if count != 1 {
		t.Errorf("Timer fired early across wrap, count=%d", count)
	}

	SetTime(0x100)
	ProcessTimers()
	if count != 2 {
		t.Errorf("Expected second fire at 0x100, count=%d", count)
	}
}

func TestCancelTimer(t *testing.T) {
	resetScheduler()
	defer resetScheduler()

	fired := false
	a := &Timer{WakeTime: 10, Handler: func(*Timer) uint8 { return SF_DONE }}
	b := &Timer{WakeTime: 20, Handler: func(*Timer) uint8 { fired = true; return SF_DONE }}
	ScheduleTimer(a)
	ScheduleTimer(b)

	CancelTimer(b)
	CancelTimer(b) // Not queued anymore, no-op

	SetTime(100)
	ProcessTimers()
	if fired {
		t.Error("Cancelled timer fired")
	}
	if timerList != nil {
		t.Error("Expected empty schedule")
	}
}

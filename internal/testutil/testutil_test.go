package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_Now(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	got := clock.Now()
	if !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	clock.Advance(5 * time.Minute)

	want := fixed.Add(5 * time.Minute)
	got := clock.Now()
	if !got.Equal(want) {
		t.Errorf("after Advance(5m), Now() = %v, want %v", got, want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}

	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	want := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	clock.Set(want)

	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("after Set, Now() = %v, want %v", got, want)
	}
}

func TestMustParseTime_Valid(t *testing.T) {
	got := MustParseTime("2024-01-15T10:30:00Z")
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("MustParseTime = %v, want %v", got, want)
	}
}

func TestMustParseTime_Invalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseTime should panic on invalid timestamp")
		}
	}()
	MustParseTime("not-a-time")
}

func TestPointerHelpers(t *testing.T) {
	if got := *Int64Ptr(7); got != 7 {
		t.Errorf("*Int64Ptr(7) = %d, want 7", got)
	}
	if got := *Float64Ptr(70.5); got != 70.5 {
		t.Errorf("*Float64Ptr(70.5) = %v, want 70.5", got)
	}
	ts := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if got := *TimePtr(ts); !got.Equal(ts) {
		t.Errorf("*TimePtr = %v, want %v", got, ts)
	}
}

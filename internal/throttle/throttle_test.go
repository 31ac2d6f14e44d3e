package throttle

import (
	"testing"
	"time"
)

func TestDelayBounds(t *testing.T) {
	c := New(Limits{MinDelay: 2 * time.Second, MaxDelay: 8 * time.Second}, Warmup{}, nil)

	for i := 0; i < 200; i++ {
		d := c.Delay()
		if d < 2*time.Second || d > 8*time.Second {
			t.Fatalf("delay %v outside [2s, 8s]", d)
		}
	}
}

func TestDelayFixed(t *testing.T) {
	c := New(Limits{MinDelay: 5 * time.Second, MaxDelay: 5 * time.Second}, Warmup{}, nil)
	if d := c.Delay(); d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
}

func TestWarmupLinearRamp(t *testing.T) {
	w := Warmup{Enabled: true, StartRate: 1, TargetRate: 10, Duration: 10 * time.Hour}
	first := time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)
	c := New(Limits{}, w, &State{FirstSendAt: first})

	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 1},
		{5 * time.Hour, 5.5},
		{10 * time.Hour, 10},
		{15 * time.Hour, 10}, // clamped to target
	}

	for _, tc := range tests {
		got := c.Rate(first.Add(tc.elapsed))
		if got != tc.want {
			t.Errorf("rate at +%v = %v, expected %v", tc.elapsed, got, tc.want)
		}
	}
}

func TestWarmupBeforeFirstSend(t *testing.T) {
	w := Warmup{Enabled: true, StartRate: 2, TargetRate: 20, Duration: time.Hour}
	c := New(Limits{}, w, nil)

	if got := c.Rate(time.Now()); got != 2 {
		t.Errorf("expected start rate before first send, got %v", got)
	}
}

func TestHourlyCap(t *testing.T) {
	c := New(Limits{MaxPerHour: 3}, Warmup{}, nil)
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !c.Allow(now) {
			t.Fatalf("send %d should be allowed", i+1)
		}
		c.Record(now)
	}
	if c.Allow(now) {
		t.Error("4th send should be capped")
	}

	// Counter resets after the hour window
	later := now.Add(61 * time.Minute)
	if !c.Allow(later) {
		t.Error("send should be allowed after hourly window reset")
	}
}

func TestDailyCap(t *testing.T) {
	c := New(Limits{MaxPerHour: 100, MaxPerDay: 2}, Warmup{}, nil)
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

	c.Record(now)
	c.Record(now)

	if c.Allow(now.Add(2 * time.Hour)) {
		t.Error("daily cap should hold across hourly resets")
	}
	if !c.Allow(now.Add(25 * time.Hour)) {
		t.Error("send should be allowed after daily window reset")
	}
}

func TestWarmupCapsHeadroom(t *testing.T) {
	w := Warmup{Enabled: true, StartRate: 2, TargetRate: 10, Duration: 10 * time.Hour}
	c := New(Limits{MaxPerHour: 100}, w, nil)
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

	// Rate is 2/hour until the first send; two sends exhaust the hour.
	if got := c.Headroom(now); got != 2 {
		t.Fatalf("expected headroom 2, got %d", got)
	}
	c.Record(now)
	c.Record(now)
	if c.Allow(now) {
		t.Error("warmup rate should cap the third send this hour")
	}
}

func TestHeadroomUnbounded(t *testing.T) {
	c := New(Limits{}, Warmup{}, nil)
	if got := c.Headroom(time.Now()); got <= 0 {
		t.Errorf("expected unbounded headroom, got %d", got)
	}
}

func TestStateRestore(t *testing.T) {
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	prev := State{HourlyCount: 2, DailyCount: 2, HourStart: now, DayStart: now}

	c := New(Limits{MaxPerHour: 3}, Warmup{}, &prev)
	if got := c.Headroom(now.Add(time.Minute)); got != 1 {
		t.Errorf("expected restored headroom 1, got %d", got)
	}

	c.Record(now.Add(time.Minute))
	st := c.State()
	if st.HourlyCount != 3 || st.DailyCount != 3 {
		t.Errorf("unexpected state after record: %+v", st)
	}
}

func TestNextWindow(t *testing.T) {
	c := New(Limits{MaxPerHour: 1}, Warmup{}, nil)
	now := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

	c.Record(now)
	if got := c.NextWindow(now); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("expected next window %v, got %v", now.Add(time.Hour), got)
	}
}

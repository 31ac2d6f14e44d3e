// Package throttle bounds how fast a single sending profile may dispatch
// contacts: randomized inter-send delays, hourly/daily caps and a warmup
// ramp for young profiles.
package throttle

import (
	"math/rand"
	"sync"
	"time"
)

// Limits are the externally supplied caps for one profile
type Limits struct {
	MinDelay   time.Duration // minimum pause between contacts
	MaxDelay   time.Duration // maximum pause between contacts
	MaxPerHour int           // 0 = unlimited
	MaxPerDay  int           // 0 = unlimited
}

// Warmup ramps the allowed hourly rate linearly from StartRate to
// TargetRate over Duration, measured from the profile's first-ever send.
type Warmup struct {
	Enabled    bool
	StartRate  float64 // contacts/hour at the start of the ramp
	TargetRate float64 // contacts/hour after the ramp
	Duration   time.Duration
}

// State is the persistable counter state of one controller. The engine
// stores it with the run snapshot so caps survive a restart.
type State struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
	FirstSendAt time.Time `json:"first_send_at,omitempty"`
}

// Controller enforces the send cadence for one profile. Safe for use by a
// single dispatch loop plus snapshot readers.
type Controller struct {
	mu     sync.Mutex
	limits Limits
	warmup Warmup
	state  State
	rng    *rand.Rand
}

// New creates a controller, optionally restoring persisted state
func New(limits Limits, warmup Warmup, prev *State) *Controller {
	c := &Controller{
		limits: limits,
		warmup: warmup,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if prev != nil {
		c.state = *prev
	}
	return c
}

// Delay samples the pause before the next send, uniformly in
// [MinDelay, MaxDelay]. The randomization is intentional: a fixed cadence
// is a detectable send pattern.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	min, max := c.limits.MinDelay, c.limits.MaxDelay
	if max <= min {
		return min
	}
	return min + time.Duration(c.rng.Int63n(int64(max-min)+1))
}

// Rate returns the warmup-capped allowed rate in contacts/hour at the
// given instant. Without warmup it returns 0, meaning uncapped.
func (c *Controller) Rate(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate(now)
}

func (c *Controller) rate(now time.Time) float64 {
	if !c.warmup.Enabled {
		return 0
	}
	if c.warmup.Duration <= 0 {
		return c.warmup.TargetRate
	}
	start := c.state.FirstSendAt
	if start.IsZero() {
		return c.warmup.StartRate
	}
	frac := float64(now.Sub(start)) / float64(c.warmup.Duration)
	if frac >= 1 {
		return c.warmup.TargetRate
	}
	return c.warmup.StartRate + (c.warmup.TargetRate-c.warmup.StartRate)*frac
}

// Headroom returns how many more sends this profile may make in the
// current hour under all caps. Zero means the profile is skipped for this
// tick; the dispatcher tries the next profile instead of blocking.
func (c *Controller) Headroom(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(now)

	headroom := -1 // -1 = unbounded so far
	if c.limits.MaxPerHour > 0 {
		headroom = c.limits.MaxPerHour - c.state.HourlyCount
	}
	if c.limits.MaxPerDay > 0 {
		if left := c.limits.MaxPerDay - c.state.DailyCount; headroom < 0 || left < headroom {
			headroom = left
		}
	}
	if rate := c.rate(now); rate > 0 {
		if left := int(rate) - c.state.HourlyCount; headroom < 0 || left < headroom {
			headroom = left
		}
	}
	if headroom < 0 {
		return int(^uint(0) >> 1) // no caps configured
	}
	return max(headroom, 0)
}

// Allow reports whether a send is permitted right now
func (c *Controller) Allow(now time.Time) bool {
	return c.Headroom(now) > 0
}

// Record counts one dispatched send
func (c *Controller) Record(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(now)
	c.state.HourlyCount++
	c.state.DailyCount++
	if c.state.FirstSendAt.IsZero() {
		c.state.FirstSendAt = now
	}
}

// State returns a copy of the counter state for persistence
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NextWindow returns when the hourly counter resets, for retry hints
func (c *Controller) NextWindow(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.HourStart.IsZero() {
		return now
	}
	return c.state.HourStart.Add(time.Hour)
}

func (c *Controller) reset(now time.Time) {
	if c.state.HourStart.IsZero() || now.Sub(c.state.HourStart) >= time.Hour {
		c.state.HourlyCount = 0
		c.state.HourStart = now
	}
	if c.state.DayStart.IsZero() || now.Sub(c.state.DayStart) >= 24*time.Hour {
		c.state.DailyCount = 0
		c.state.DayStart = now
	}
}

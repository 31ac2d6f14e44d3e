package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

// ErrNoEligibleWindow is returned when the schedule admits no instant at
// all (work days enabled with an empty day set). It is a warning, not a
// fault: the campaign stays scheduled.
var ErrNoEligibleWindow = errors.New("schedule: no eligible work window")

// maxLookaheadDays bounds the search for the next allowed weekday
const maxLookaheadDays = 8

// Scheduler decides when a scheduled or recurring campaign becomes
// eligible to enter the queue.
type Scheduler struct{}

// New creates a scheduler
func New() *Scheduler {
	return &Scheduler{}
}

// NextEligible returns the next instant at or after now that falls inside
// an allowed weekday and inside the work-hour window, evaluated in the
// campaign's timezone. With work days disabled all days qualify; with work
// hours disabled all hours qualify.
func (s *Scheduler) NextEligible(cfg campaign.ScheduleConfig, now time.Time) (time.Time, error) {
	loc, err := location(cfg.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	if cfg.WorkDaysEnabled && len(cfg.WorkDays) == 0 {
		return time.Time{}, ErrNoEligibleWindow
	}

	startH, startM := 0, 0
	endH, endM := 24, 0
	if cfg.WorkHoursEnabled {
		if startH, startM, err = parseClock(cfg.WorkHoursStart); err != nil {
			return time.Time{}, fmt.Errorf("schedule: bad work_hours_start: %w", err)
		}
		if endH, endM, err = parseClock(cfg.WorkHoursEnd); err != nil {
			return time.Time{}, fmt.Errorf("schedule: bad work_hours_end: %w", err)
		}
	}

	local := now.In(loc)
	for i := 0; i < maxLookaheadDays; i++ {
		day := local.AddDate(0, 0, i)
		if !dayAllowed(cfg, day.Weekday()) {
			continue
		}

		windowStart := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc)
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc)

		if i == 0 {
			if !local.Before(windowStart) && local.Before(windowEnd) {
				return local, nil
			}
			if local.Before(windowStart) {
				return windowStart, nil
			}
			continue // past today's window
		}
		return windowStart, nil
	}

	// All weekdays were filtered out; can only happen with a non-empty
	// but fully out-of-range day set.
	return time.Time{}, ErrNoEligibleWindow
}

// NextOccurrence computes the next run instant for a recurring campaign
// from the previous run's reference time, re-clamped into the next
// eligible work window. The second return is false once the recurrence
// end date is passed, after which the campaign completes permanently.
func (s *Scheduler) NextOccurrence(cfg campaign.ScheduleConfig, lastRun, now time.Time) (time.Time, bool, error) {
	if cfg.Recurrence == campaign.RecurrenceNone || cfg.Recurrence == "" {
		return time.Time{}, false, nil
	}

	loc, err := location(cfg.Timezone)
	if err != nil {
		return time.Time{}, false, err
	}

	next := advance(lastRun.In(loc), cfg.Recurrence)
	for next.Before(now) {
		next = advance(next, cfg.Recurrence)
	}

	if cfg.RecurrenceEndDate != nil && next.After(*cfg.RecurrenceEndDate) {
		return time.Time{}, false, nil
	}

	eligible, err := s.NextEligible(cfg, next)
	if err != nil {
		return time.Time{}, false, err
	}
	if cfg.RecurrenceEndDate != nil && eligible.After(*cfg.RecurrenceEndDate) {
		return time.Time{}, false, nil
	}
	return eligible, true, nil
}

// advance adds one recurrence period, preserving wall time across DST for
// the monthly case via calendar arithmetic.
func advance(t time.Time, r campaign.Recurrence) time.Time {
	switch r {
	case campaign.RecurrenceDaily:
		return t.AddDate(0, 0, 1)
	case campaign.RecurrenceWeekly:
		return t.AddDate(0, 0, 7)
	case campaign.RecurrenceMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t
}

func dayAllowed(cfg campaign.ScheduleConfig, wd time.Weekday) bool {
	if !cfg.WorkDaysEnabled {
		return true
	}
	for _, d := range cfg.WorkDays {
		if time.Weekday(d) == wd {
			return true
		}
	}
	return false
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule: bad timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

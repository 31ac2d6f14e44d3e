// Package notify emits lifecycle and milestone notifications for
// campaigns. Sinks are fire-and-forget: a broken sink is logged and
// never blocks or fails the engine.
package notify

import (
	"log/slog"
	"time"
)

// Kind classifies a notification
type Kind string

const (
	CampaignStarted   Kind = "campaign_started"
	CampaignCompleted Kind = "campaign_completed"
	CampaignPaused    Kind = "campaign_paused"
	CampaignCancelled Kind = "campaign_cancelled"
	CampaignError     Kind = "campaign_error"
	ProgressMilestone Kind = "progress_milestone"
	ProfileIssue      Kind = "profile_issue"

	// LoginRequired means the profile's messenger session dropped and
	// the account needs a fresh QR or 2FA login in the console.
	LoginRequired Kind = "login_required"
)

// Event is one notification
type Event struct {
	Kind       Kind      `json:"kind"`
	CampaignID string    `json:"campaign_id"`
	Campaign   string    `json:"campaign_name,omitempty"`
	ProfileID  string    `json:"profile_id,omitempty"`
	Percent    int       `json:"percent,omitempty"` // milestone events only
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Notify(ev Event)
}

// LogSink writes events to the structured log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

// Notify logs the event
func (s *LogSink) Notify(ev Event) {
	s.logger.Info("campaign event",
		"kind", ev.Kind,
		"campaign_id", ev.CampaignID,
		"campaign_name", ev.Campaign,
		"profile_id", ev.ProfileID,
		"percent", ev.Percent,
		"detail", ev.Detail,
	)
}

// MultiSink fans an event out to several sinks
type MultiSink []Sink

// Notify delivers to every sink
func (m MultiSink) Notify(ev Event) {
	for _, s := range m {
		s.Notify(ev)
	}
}

// Milestones tracks edge-triggered progress thresholds for one run.
// Each threshold fires at most once even if progress is replayed.
type Milestones struct {
	thresholds []int
	fired      map[int]bool
}

// NewMilestones tracks the default 50/75/90 percent thresholds
func NewMilestones() *Milestones {
	return &Milestones{
		thresholds: []int{50, 75, 90},
		fired:      make(map[int]bool),
	}
}

// Cross returns the thresholds newly crossed at the given progress,
// marking them fired.
func (m *Milestones) Cross(processed, total int) []int {
	if total <= 0 {
		return nil
	}
	pct := processed * 100 / total
	var out []int
	for _, th := range m.thresholds {
		if pct >= th && !m.fired[th] {
			m.fired[th] = true
			out = append(out, th)
		}
	}
	return out
}

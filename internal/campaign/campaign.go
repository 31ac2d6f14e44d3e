package campaign

import (
	"time"
)

// Type distinguishes ad-hoc campaigns from scheduled ones
type Type string

const (
	TypeOneTime   Type = "one_time"
	TypeScheduled Type = "scheduled"
)

// Messenger selects which channels a campaign may use
type Messenger string

const (
	MessengerWhatsApp  Messenger = "whatsapp_only"
	MessengerTelegram  Messenger = "telegram_only"
	MessengerUniversal Messenger = "universal"
)

// UniversalTarget is the channel preference for universal campaigns
type UniversalTarget string

const (
	TargetWhatsAppFirst UniversalTarget = "whatsapp_first"
	TargetTelegramFirst UniversalTarget = "telegram_first"
	TargetBoth          UniversalTarget = "both"
)

// Channel is a concrete delivery channel
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

// Other returns the fallback channel
func (c Channel) Other() Channel {
	if c == ChannelWhatsApp {
		return ChannelTelegram
	}
	return ChannelWhatsApp
}

// Status is the campaign lifecycle state
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether the status admits no further manual transitions.
// Error is terminal unless auto-resume is enabled for the campaign.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Recurrence controls re-arming of scheduled campaigns
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Campaign is the unit of orchestration. Once queued it is owned by the
// engine and mutated only through state machine transitions.
type Campaign struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            Type            `json:"type"`
	Messenger       Messenger       `json:"messenger"`
	UniversalTarget UniversalTarget `json:"universal_target,omitempty"`
	Status          Status          `json:"status"`
	Template        string          `json:"template"`
	ProfileIDs      []string        `json:"profile_ids"`

	Schedule ScheduleConfig `json:"schedule"`
	Filter   FilterConfig   `json:"filter"`
	Options  OptionsConfig  `json:"options"`

	// Authoritative counters, updated through the progress aggregator only
	TotalContacts      int `json:"total_contacts"`
	ProcessedContacts  int `json:"processed_contacts"`
	SuccessfulContacts int `json:"successful_contacts"`
	FailedContacts     int `json:"failed_contacts"`
	SkippedContacts    int `json:"skipped_contacts"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// PauseReason records which error threshold fired, for diagnostics
	PauseReason string `json:"pause_reason,omitempty"`

	Profiles []*Profile `json:"profiles,omitempty"`
}

// ScheduleConfig defines when a campaign is eligible to run
type ScheduleConfig struct {
	Timezone          string     `json:"timezone"`
	WorkHoursEnabled  bool       `json:"work_hours_enabled"`
	WorkHoursStart    string     `json:"work_hours_start,omitempty"` // HH:MM
	WorkHoursEnd      string     `json:"work_hours_end,omitempty"`   // HH:MM
	WorkDaysEnabled   bool       `json:"work_days_enabled"`
	WorkDays          []int      `json:"work_days,omitempty"` // 0=Sunday .. 6=Saturday
	Recurrence        Recurrence `json:"recurrence"`
	RecurrenceEndDate *time.Time `json:"recurrence_end_date,omitempty"`
}

// FilterConfig defines the contact selection predicate and ordering.
// Immutable once the queue is built for a run.
type FilterConfig struct {
	RegionIDs          []string   `json:"region_ids,omitempty"` // empty = all regions
	LimitContacts      int        `json:"limit_contacts,omitempty"`
	MaxCampaignCount   int        `json:"max_campaign_count,omitempty"`
	LastCampaignBefore *time.Time `json:"last_campaign_before,omitempty"`
	LastCampaignAfter  *time.Time `json:"last_campaign_after,omitempty"`
	ClientStatuses     []string   `json:"client_statuses,omitempty"`
	WhatsAppStatuses   []string   `json:"whatsapp_statuses,omitempty"`
	TelegramStatuses   []string   `json:"telegram_statuses,omitempty"`
	NeverCampaigned    bool       `json:"never_campaigned,omitempty"`
	RandomOrder        bool       `json:"random_order,omitempty"`
}

// OptionsConfig drives throttling, dedup and the error policy
type OptionsConfig struct {
	DeduplicationEnabled    bool `json:"deduplication_enabled"`
	DeduplicationPeriodDays int  `json:"deduplication_period_days,omitempty"`
	CooldownEnabled         bool `json:"cooldown_enabled"`
	CooldownMinutes         int  `json:"cooldown_minutes,omitempty"`
	WarmupEnabled           bool `json:"warmup_enabled"`
	WarmupStartRate         int  `json:"warmup_start_rate,omitempty"`  // contacts/hour
	WarmupTargetRate        int  `json:"warmup_target_rate,omitempty"` // contacts/hour
	WarmupDurationHours     int  `json:"warmup_duration_hours,omitempty"`
	StopOnConsecutiveErrors int  `json:"stop_on_consecutive_errors,omitempty"`
	StopOnErrorThreshold    int  `json:"stop_on_error_threshold,omitempty"`
	AutoResumeEnabled       bool `json:"auto_resume_enabled"`
}

// ProfileStatus is the campaign-scoped sub-state of an assigned profile
type ProfileStatus string

const (
	ProfileQueued    ProfileStatus = "queued"
	ProfileRunning   ProfileStatus = "running"
	ProfileCompleted ProfileStatus = "completed"
	ProfileError     ProfileStatus = "error"
)

// Profile is the assignment of a sending profile to a campaign
type Profile struct {
	ProfileID      string        `json:"profile_id"`
	Status         ProfileStatus `json:"status"`
	AssignedCount  int           `json:"assigned_count"`
	ProcessedCount int           `json:"processed_count"`
	SuccessCount   int           `json:"success_count"`
	FailedCount    int           `json:"failed_count"`
}

// WorkItem is one unit of dispatch work, immutable once enqueued
type WorkItem struct {
	ContactID string  `json:"contact_id"`
	PhoneID   string  `json:"phone_id"`
	Channel   Channel `json:"channel"`
}

// Result classifies a per-contact outcome
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// OutcomeEvent is one per-contact outcome observed by the aggregator.
// Events are deduplicated by (ContactID, At).
type OutcomeEvent struct {
	ProfileID string    `json:"profile_id"`
	ContactID string    `json:"contact_id"`
	Channel   Channel   `json:"channel,omitempty"`
	Result    Result    `json:"result"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`

	// LoginRequired marks a failure caused by a dropped messenger
	// session on the sending profile.
	LoginRequired bool `json:"login_required,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the engine
// keeps mutating the original.
func (c *Campaign) Clone() *Campaign {
	cp := *c
	cp.ProfileIDs = append([]string(nil), c.ProfileIDs...)
	cp.Schedule.WorkDays = append([]int(nil), c.Schedule.WorkDays...)
	cp.Filter.RegionIDs = append([]string(nil), c.Filter.RegionIDs...)
	cp.Filter.ClientStatuses = append([]string(nil), c.Filter.ClientStatuses...)
	cp.Filter.WhatsAppStatuses = append([]string(nil), c.Filter.WhatsAppStatuses...)
	cp.Filter.TelegramStatuses = append([]string(nil), c.Filter.TelegramStatuses...)
	cp.ScheduledAt = cloneTime(c.ScheduledAt)
	cp.StartedAt = cloneTime(c.StartedAt)
	cp.PausedAt = cloneTime(c.PausedAt)
	cp.CompletedAt = cloneTime(c.CompletedAt)
	cp.Schedule.RecurrenceEndDate = cloneTime(c.Schedule.RecurrenceEndDate)
	cp.Filter.LastCampaignBefore = cloneTime(c.Filter.LastCampaignBefore)
	cp.Filter.LastCampaignAfter = cloneTime(c.Filter.LastCampaignAfter)
	if c.Profiles != nil {
		cp.Profiles = make([]*Profile, len(c.Profiles))
		for i, p := range c.Profiles {
			pc := *p
			cp.Profiles[i] = &pc
		}
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

package campaign

import "time"

// Progress is a derived, copy-on-read view of a campaign run. It is
// recomputed from outcome events and is never the source of truth for
// the campaign counters.
type Progress struct {
	CampaignID string `json:"campaign_id"`
	Status     Status `json:"status"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	ContactsPerMinute float64 `json:"contacts_per_minute"`

	// ETA fields are nil while the rate is zero (not started or fully
	// throttled) rather than reporting an infinite estimate.
	EstimatedSecondsRemaining *int64     `json:"estimated_seconds_remaining,omitempty"`
	EstimatedCompletionTime   *time.Time `json:"estimated_completion_time,omitempty"`

	Profiles  []ProfileProgress `json:"profiles_progress,omitempty"`
	TopErrors []ErrorCount      `json:"top_errors,omitempty"`
}

// ProfileProgress is the per-profile slice of a progress snapshot
type ProfileProgress struct {
	ProfileID string        `json:"profile_id"`
	Status    ProfileStatus `json:"status"`
	Assigned  int           `json:"assigned"`
	Processed int           `json:"processed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
}

// ErrorCount is one aggregated error-message frequency entry
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

package engine

import (
	"github.com/mtelegin/herald/internal/campaign"
)

// transitions is the campaign lifecycle table. A campaign may only move
// along these edges; everything else is an InvalidTransitionError.
var transitions = map[campaign.Status][]campaign.Status{
	campaign.StatusDraft: {
		campaign.StatusScheduled,
		campaign.StatusQueued,
		campaign.StatusCancelled,
	},
	campaign.StatusScheduled: {
		campaign.StatusQueued,
		campaign.StatusDraft,
		campaign.StatusCancelled,
	},
	campaign.StatusQueued: {
		campaign.StatusRunning,
		campaign.StatusCancelled,
	},
	campaign.StatusRunning: {
		campaign.StatusPaused,
		campaign.StatusCompleted,
		campaign.StatusCancelled,
		campaign.StatusError,
	},
	campaign.StatusPaused: {
		campaign.StatusRunning,
		campaign.StatusCancelled,
	},
	campaign.StatusError: {
		campaign.StatusRunning,
		campaign.StatusCancelled,
	},
	// re-arm of a recurring campaign
	campaign.StatusCompleted: {
		campaign.StatusScheduled,
	},
	campaign.StatusCancelled: nil,
}

// CanTransition reports whether the lifecycle table allows from -> to
func CanTransition(from, to campaign.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to campaign.Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

package engine

import (
	"errors"
	"fmt"

	"github.com/mtelegin/herald/internal/campaign"
)

var (
	// ErrNotFound is returned for unknown campaign ids
	ErrNotFound = errors.New("engine: campaign not found")

	// ErrValidation is wrapped around campaign definition problems
	ErrValidation = errors.New("engine: invalid campaign")

	// ErrProfileUnavailable means every assigned profile is busy,
	// disabled or missing. Transient: the campaign stays queued.
	ErrProfileUnavailable = errors.New("engine: no profile available")
)

// InvalidTransitionError reports a state change the lifecycle table
// forbids.
type InvalidTransitionError struct {
	From campaign.Status
	To   campaign.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("engine: invalid transition %s -> %s", e.From, e.To)
}

// FatalFaultError wraps a persistence failure observed during a run.
// The campaign moves to ERROR; the remaining queue may be stale.
type FatalFaultError struct {
	CampaignID string
	Err        error
}

func (e *FatalFaultError) Error() string {
	return fmt.Sprintf("engine: fatal fault in campaign %s: %v", e.CampaignID, e.Err)
}

func (e *FatalFaultError) Unwrap() error { return e.Err }

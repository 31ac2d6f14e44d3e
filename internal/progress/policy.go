package progress

import (
	"sync"

	"github.com/mtelegin/herald/internal/campaign"
)

// Pause reasons recorded on the campaign for diagnostics
const (
	ReasonConsecutiveErrors = "consecutive-errors"
	ReasonFailureThreshold  = "failure-threshold"
)

// PauseDecision is the error policy's verdict that a running campaign
// must pause.
type PauseDecision struct {
	Reason    string
	ProfileID string // set for consecutive-errors
}

// Policy watches outcomes and trips the campaign into a pause when a
// profile's consecutive-failure streak or the campaign's cumulative
// failure count crosses its threshold. A tripped policy stays quiet for
// the rest of the run; a resumed run starts with a fresh policy seeded
// via SeedFailures.
type Policy struct {
	mu sync.Mutex

	stopOnConsecutive int // 0 = disabled
	stopOnTotal       int // 0 = disabled

	streaks map[string]int
	total   int
	tripped bool
}

// NewPolicy creates a policy from the campaign options
func NewPolicy(opts campaign.OptionsConfig) *Policy {
	return &Policy{
		stopOnConsecutive: opts.StopOnConsecutiveErrors,
		stopOnTotal:       opts.StopOnErrorThreshold,
		streaks:           make(map[string]int),
	}
}

// SeedFailures preloads the cumulative failure count when a run resumes
// after a restart. Streaks are not carried over.
func (p *Policy) SeedFailures(n int) {
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
}

// Observe folds one outcome in and returns a pause decision when a
// threshold fires, at most once per armed period. A success resets that
// profile's streak but never decrements the cumulative count.
func (p *Policy) Observe(ev campaign.OutcomeEvent) *PauseDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Result {
	case campaign.ResultSuccess:
		p.streaks[ev.ProfileID] = 0
		return nil
	case campaign.ResultFailed:
		p.streaks[ev.ProfileID]++
		p.total++
	default:
		return nil
	}

	if p.tripped {
		return nil
	}

	if p.stopOnConsecutive > 0 && p.streaks[ev.ProfileID] >= p.stopOnConsecutive {
		p.tripped = true
		return &PauseDecision{Reason: ReasonConsecutiveErrors, ProfileID: ev.ProfileID}
	}
	if p.stopOnTotal > 0 && p.total >= p.stopOnTotal {
		p.tripped = true
		return &PauseDecision{Reason: ReasonFailureThreshold}
	}
	return nil
}

package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

// ErrProfileBusy means the profile is already owned by another running
// campaign.
var ErrProfileBusy = errors.New("dispatch: profile busy")

// Slots is the arena of profile ownership tokens. A profile belongs to at
// most one running campaign; ownership is keyed by run id rather than a
// boolean so a recovered run can reclaim its own slots after a crash.
type Slots struct {
	mu     sync.Mutex
	owners map[string]string // profileID -> runID
}

// NewSlots creates an empty arena
func NewSlots() *Slots {
	return &Slots{owners: make(map[string]string)}
}

// Acquire claims a profile for a run. Re-acquiring with the same run id
// is a no-op, which is what crash recovery relies on.
func (s *Slots) Acquire(profileID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.owners[profileID]; ok && owner != runID {
		return fmt.Errorf("%w: %s owned by run %s", ErrProfileBusy, profileID, owner)
	}
	s.owners[profileID] = runID
	return nil
}

// Release frees a profile if the run still owns it
func (s *Slots) Release(profileID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owners[profileID] == runID {
		delete(s.owners, profileID)
	}
}

// ReleaseRun frees every profile owned by the run
func (s *Slots) ReleaseRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, owner := range s.owners {
		if owner == runID {
			delete(s.owners, id)
		}
	}
}

// Owner reports the current owner of a profile
func (s *Slots) Owner(profileID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[profileID]
	return owner, ok
}

// Package profiles is the registry of sending identities (messenger
// accounts). The engine consumes it read-only; account linking and login
// are handled elsewhere.
package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

// ErrNotFound is returned for unknown profile ids
var ErrNotFound = errors.New("profiles: not found")

// Limits are the per-profile sending limits supplied to the throttle
type Limits struct {
	MaxPerHour int
	MaxPerDay  int
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// Profile is one sending identity
type Profile struct {
	ID       string
	Name     string
	Channels []campaign.Channel
	Enabled  bool
	Limits   Limits
}

// Supports reports whether the profile can send on the channel
func (p Profile) Supports(ch campaign.Channel) bool {
	for _, c := range p.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Registry is the read-only profile source. List with no ids returns
// every known profile.
type Registry interface {
	Get(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, ids []string) ([]Profile, error)
}

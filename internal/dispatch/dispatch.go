// Package dispatch fans campaign work items out across messaging profiles.
// Each profile runs its own loop paced by its throttle controller, so a
// slow or capped profile never blocks the others.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/profiles"
	"github.com/mtelegin/herald/internal/template"
	"github.com/mtelegin/herald/internal/throttle"
	"github.com/mtelegin/herald/internal/transport"
)

// ErrNoProfiles means no attached profile could be claimed for the run.
var ErrNoProfiles = errors.New("dispatch: no profiles available")

const defaultThrottleTick = 5 * time.Second

// Config describes one dispatch run over a campaign's work queue.
type Config struct {
	RunID       string
	Campaign    *campaign.Campaign
	Items       []campaign.WorkItem
	Profiles    []profiles.Profile
	Controllers map[string]*throttle.Controller
	Driver      transport.Driver
	Slots       *Slots

	// ThrottleTick is how often a capped profile re-checks its limits.
	ThrottleTick time.Duration

	// SendRetries is the number of extra attempts on the same channel
	// before a contact counts as failed.
	SendRetries int

	// Renderer personalizes the message body per contact. Nil sends
	// the raw campaign body.
	Renderer *template.Engine

	// OnOutcome receives exactly one event per dispatched contact.
	OnOutcome func(campaign.OutcomeEvent)

	Logger *slog.Logger
}

// Dispatcher drives one run of a campaign: it claims profile slots,
// starts a loop per profile and distributes work items until the queue
// drains or the context is cancelled.
type Dispatcher struct {
	cfg    Config
	tick   time.Duration
	queue  chan campaign.WorkItem
	logger *slog.Logger

	mu        sync.Mutex
	remaining []campaign.WorkItem
}

// New claims a slot for every usable profile and prepares the work queue.
// Profiles that are disabled, lack the required channel or are owned by
// another run are skipped; if none remain the run cannot start.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.ThrottleTick <= 0 {
		cfg.ThrottleTick = defaultThrottleTick
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	usable := make([]profiles.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if !p.Enabled {
			continue
		}
		if err := cfg.Slots.Acquire(p.ID, cfg.RunID); err != nil {
			cfg.Logger.Warn("profile slot unavailable",
				"profile_id", p.ID, "error", err)
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, ErrNoProfiles
	}

	queue := make(chan campaign.WorkItem, len(cfg.Items))
	for _, it := range cfg.Items {
		queue <- it
	}
	close(queue)

	cfg.Profiles = usable
	return &Dispatcher{
		cfg:    cfg,
		tick:   cfg.ThrottleTick,
		queue:  queue,
		logger: cfg.Logger.With("component", "dispatch", "campaign_id", cfg.Campaign.ID),
	}, nil
}

// Run blocks until the queue is drained or ctx is cancelled. Slots are
// released on return. Undelivered items are retrievable via Remaining.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range d.cfg.Profiles {
		wg.Add(1)
		go func(p profiles.Profile) {
			defer wg.Done()
			defer d.cfg.Slots.Release(p.ID, d.cfg.RunID)
			d.profileLoop(ctx, p)
		}(p)
	}
	wg.Wait()

	d.mu.Lock()
	for it := range d.queue {
		d.remaining = append(d.remaining, it)
	}
	d.mu.Unlock()
}

// ThrottleStates returns the current counters of every controller, for
// persistence.
func (d *Dispatcher) ThrottleStates() map[string]throttle.State {
	out := make(map[string]throttle.State, len(d.cfg.Controllers))
	for id, c := range d.cfg.Controllers {
		if c != nil {
			out[id] = c.State()
		}
	}
	return out
}

// Remaining returns the items that were still queued when Run returned.
// Only valid after Run has returned.
func (d *Dispatcher) Remaining() []campaign.WorkItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]campaign.WorkItem, len(d.remaining))
	copy(out, d.remaining)
	return out
}

func (d *Dispatcher) profileLoop(ctx context.Context, p profiles.Profile) {
	ctrl := d.cfg.Controllers[p.ID]
	log := d.logger.With("profile_id", p.ID)

	for {
		now := time.Now()
		if ctrl != nil && !ctrl.Allow(now) {
			wait := d.tick
			if next := ctrl.NextWindow(now); !next.IsZero() {
				if until := time.Until(next); until > 0 && until < wait {
					wait = until
				}
			}
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			if !p.Supports(item.Channel) && !d.fallbackChannel(p, item) {
				d.emit(campaign.OutcomeEvent{
					ProfileID: p.ID,
					ContactID: item.ContactID,
					Result:    campaign.ResultSkipped,
					Err:       "no capable channel on profile",
					At:        time.Now(),
				})
				continue
			}

			delivered, settled := d.send(ctx, p, ctrl, item)
			if !settled {
				// The run stopped while the send was in flight; the
				// contact goes back so a resume retries it.
				d.requeue(item)
				return
			}

			// A failed send with cooldown enabled parks the profile
			// before it touches the next contact.
			if !delivered && d.cfg.Campaign.Options.CooldownEnabled &&
				d.cfg.Campaign.Options.CooldownMinutes > 0 {
				cd := time.Duration(d.cfg.Campaign.Options.CooldownMinutes) * time.Minute
				log.Debug("cooldown after failure", "wait", cd)
				if !sleep(ctx, cd) {
					return
				}
			}

			if ctrl != nil {
				if !sleep(ctx, ctrl.Delay()) {
					return
				}
			}
		}
	}
}

// fallbackChannel reports whether the campaign allows switching the item
// to the channel the profile does support.
func (d *Dispatcher) fallbackChannel(p profiles.Profile, item campaign.WorkItem) bool {
	if d.cfg.Campaign.Messenger != campaign.MessengerUniversal {
		return false
	}
	if d.cfg.Campaign.UniversalTarget != campaign.TargetWhatsAppFirst &&
		d.cfg.Campaign.UniversalTarget != campaign.TargetTelegramFirst &&
		d.cfg.Campaign.UniversalTarget != campaign.TargetBoth {
		return false
	}
	return p.Supports(item.Channel.Other())
}

// send runs all attempts for one item and emits its outcome. The second
// return is false when the run was cancelled before the send settled; no
// outcome is emitted then and the item must go back to the remaining set.
func (d *Dispatcher) send(ctx context.Context, p profiles.Profile, ctrl *throttle.Controller, item campaign.WorkItem) (bool, bool) {
	ch := item.Channel
	if !p.Supports(ch) {
		ch = ch.Other()
	}

	out := d.attempt(ctx, p, item, ch)
	for r := 0; !out.Delivered && r < d.cfg.SendRetries && ctx.Err() == nil; r++ {
		d.logger.Debug("retrying send",
			"contact_id", item.ContactID, "channel", ch, "attempt", r+2)
		out = d.attempt(ctx, p, item, ch)
	}

	// For universal campaigns a failed send gets one immediate retry on
	// the other channel before the contact is counted as failed.
	if !out.Delivered && d.cfg.Campaign.Messenger == campaign.MessengerUniversal && p.Supports(ch.Other()) {
		if ctx.Err() == nil {
			d.logger.Debug("universal fallback",
				"contact_id", item.ContactID, "from", ch, "to", ch.Other())
			ch = ch.Other()
			out = d.attempt(ctx, p, item, ch)
		}
	}

	// An attempt aborted by cancellation is not a verdict on the contact.
	if !out.Delivered && ctx.Err() != nil {
		return false, false
	}

	if ctrl != nil {
		ctrl.Record(time.Now())
	}

	ev := campaign.OutcomeEvent{
		ProfileID: p.ID,
		ContactID: item.ContactID,
		Channel:   ch,
		At:        time.Now(),
	}
	if out.Delivered {
		ev.Result = campaign.ResultSuccess
	} else {
		ev.Result = campaign.ResultFailed
		ev.Err = out.Err
		ev.LoginRequired = out.LoginRequired
	}
	d.emit(ev)
	return out.Delivered, true
}

func (d *Dispatcher) attempt(ctx context.Context, p profiles.Profile, item campaign.WorkItem, ch campaign.Channel) transport.Outcome {
	body := d.cfg.Campaign.Template
	if d.cfg.Renderer != nil {
		rendered, err := d.cfg.Renderer.Render(body, map[string]string{
			"contact_id": item.ContactID,
			"phone_id":   item.PhoneID,
			"channel":    string(ch),
		})
		if err != nil {
			// Syntax is checked at campaign creation, so this is rare
			d.logger.Warn("message render failed, sending raw body",
				"contact_id", item.ContactID, "error", err)
		} else {
			body = rendered
		}
	}

	out, err := d.cfg.Driver.Send(ctx, transport.Request{
		ProfileID: p.ID,
		ContactID: item.ContactID,
		PhoneID:   item.PhoneID,
		Channel:   ch,
		Template:  body,
	})
	if err != nil {
		return transport.Outcome{Delivered: false, Err: err.Error()}
	}
	return out
}

func (d *Dispatcher) emit(ev campaign.OutcomeEvent) {
	if d.cfg.OnOutcome != nil {
		d.cfg.OnOutcome(ev)
	}
}

// requeue returns an item whose send never settled to the remaining set.
func (d *Dispatcher) requeue(item campaign.WorkItem) {
	d.mu.Lock()
	d.remaining = append(d.remaining, item)
	d.mu.Unlock()
}

func sleep(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

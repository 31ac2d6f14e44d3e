// Package selector materializes the ordered work queue of a campaign run
// from its filter configuration and the contact store.
package selector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/contacts"
)

// Skip reasons reported in run statistics
const (
	SkipDedupWindow = "dedup_window"
	SkipHasHistory  = "has_history"
	SkipCampaignCap = "campaign_cap"
	SkipNoChannel   = "no_channel"
)

// Stats summarizes one queue build
type Stats struct {
	Considered int
	Selected   int
	Skipped    map[string]int
}

// Selector builds work queues. The produced sequence is finite and
// per-run: re-running a campaign regenerates the queue, it never resumes
// by position.
type Selector struct {
	store contacts.Store
}

// New creates a selector over the given contact store
func New(store contacts.Store) *Selector {
	return &Selector{store: store}
}

// Build resolves the campaign's filter into an ordered slice of work
// items. Ordering is stable by contact id unless random order is
// requested, in which case the shuffle is seeded by the campaign id so a
// run is reproducible.
func (s *Selector) Build(ctx context.Context, c *campaign.Campaign, now time.Time) ([]campaign.WorkItem, Stats, error) {
	stats := Stats{Skipped: make(map[string]int)}

	list, err := s.store.List(ctx, contacts.Query{
		RegionIDs:      c.Filter.RegionIDs,
		ClientStatuses: c.Filter.ClientStatuses,
	})
	if err != nil {
		return nil, stats, fmt.Errorf("selector: list contacts: %w", err)
	}
	stats.Considered = len(list)

	dedup := newDedup(c.Filter, c.Options, now)

	items := make([]campaign.WorkItem, 0, len(list))
	for _, contact := range list {
		if !matchLastCampaign(c.Filter, contact) {
			continue
		}
		if reason, skip := dedup.skip(contact); skip {
			stats.Skipped[reason]++
			continue
		}
		ch, ok := channelFor(c, contact)
		if !ok {
			stats.Skipped[SkipNoChannel]++
			continue
		}
		items = append(items, campaign.WorkItem{
			ContactID: contact.ID,
			PhoneID:   contact.PhoneID,
			Channel:   ch,
		})
	}

	if c.Filter.RandomOrder {
		rng := rand.New(rand.NewSource(seed(c.ID)))
		rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	}

	if c.Filter.LimitContacts > 0 && len(items) > c.Filter.LimitContacts {
		items = items[:c.Filter.LimitContacts]
	}

	stats.Selected = len(items)
	return items, stats, nil
}

// dedup decides whether a contact must be excluded given its campaign
// history.
type dedup struct {
	filter campaign.FilterConfig
	opts   campaign.OptionsConfig
	now    time.Time
}

func newDedup(f campaign.FilterConfig, o campaign.OptionsConfig, now time.Time) *dedup {
	return &dedup{filter: f, opts: o, now: now}
}

func (d *dedup) skip(c contacts.Contact) (string, bool) {
	if d.filter.NeverCampaigned && (c.CampaignCount > 0 || c.LastCampaignAt != nil) {
		return SkipHasHistory, true
	}
	if d.filter.MaxCampaignCount > 0 && c.CampaignCount >= d.filter.MaxCampaignCount {
		return SkipCampaignCap, true
	}
	if d.opts.DeduplicationEnabled && c.LastCampaignAt != nil {
		window := time.Duration(d.opts.DeduplicationPeriodDays) * 24 * time.Hour
		if d.now.Sub(*c.LastCampaignAt) < window {
			return SkipDedupWindow, true
		}
	}
	return "", false
}

func matchLastCampaign(f campaign.FilterConfig, c contacts.Contact) bool {
	if f.LastCampaignBefore != nil {
		if c.LastCampaignAt == nil || !c.LastCampaignAt.Before(*f.LastCampaignBefore) {
			return false
		}
	}
	if f.LastCampaignAfter != nil {
		if c.LastCampaignAt == nil || !c.LastCampaignAt.After(*f.LastCampaignAfter) {
			return false
		}
	}
	return true
}

// channelFor picks the channel a contact will be attempted on first. For
// universal campaigns the preference order comes from the universal
// target; the dispatcher handles the in-flight fallback to the other
// channel.
func channelFor(c *campaign.Campaign, contact contacts.Contact) (campaign.Channel, bool) {
	waOK := statusAllowed(c.Filter.WhatsAppStatuses, contact.WhatsAppStatus)
	tgOK := statusAllowed(c.Filter.TelegramStatuses, contact.TelegramStatus)

	switch c.Messenger {
	case campaign.MessengerWhatsApp:
		return campaign.ChannelWhatsApp, waOK
	case campaign.MessengerTelegram:
		return campaign.ChannelTelegram, tgOK
	case campaign.MessengerUniversal:
		prefersTelegram := c.UniversalTarget == campaign.TargetTelegramFirst
		switch {
		case prefersTelegram && tgOK:
			return campaign.ChannelTelegram, true
		case prefersTelegram && waOK:
			return campaign.ChannelWhatsApp, true
		case waOK:
			return campaign.ChannelWhatsApp, true
		case tgOK:
			return campaign.ChannelTelegram, true
		}
	}
	return "", false
}

func statusAllowed(allow []string, status string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, s := range allow {
		if s == status {
			return true
		}
	}
	return false
}

func seed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

// Package progress accumulates per-contact outcomes into campaign and
// profile counters and derives throughput and ETA for the console.
package progress

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

// Aggregator is the single-writer accumulator for one campaign run.
// Counters only ever increase; readers get snapshot copies.
type Aggregator struct {
	mu sync.Mutex

	campaignID string
	total      int
	startedAt  time.Time
	window     time.Duration

	processed int
	success   int
	failed    int
	skipped   int

	profiles map[string]*profileCounters
	order    []string

	seen      map[string]struct{}
	sendTimes []time.Time
	errCounts map[string]int
}

type profileCounters struct {
	status    campaign.ProfileStatus
	assigned  int
	processed int
	success   int
	failed    int
}

// NewAggregator creates an aggregator for a run of total work items.
// window is the trailing interval used for the throughput estimate.
func NewAggregator(campaignID string, total int, startedAt time.Time, window time.Duration) *Aggregator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Aggregator{
		campaignID: campaignID,
		total:      total,
		startedAt:  startedAt,
		window:     window,
		profiles:   make(map[string]*profileCounters),
		seen:       make(map[string]struct{}),
		errCounts:  make(map[string]int),
	}
}

// Seed preloads the counters carried over from the earlier portion of a
// resumed run, taken from the persisted campaign record.
func (a *Aggregator) Seed(c *campaign.Campaign) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processed = c.ProcessedContacts
	a.success = c.SuccessfulContacts
	a.failed = c.FailedContacts
	a.skipped = c.SkippedContacts

	for _, cp := range c.Profiles {
		pc, ok := a.profiles[cp.ProfileID]
		if !ok {
			pc = &profileCounters{status: cp.Status}
			a.profiles[cp.ProfileID] = pc
			a.order = append(a.order, cp.ProfileID)
		}
		pc.assigned = cp.AssignedCount
		pc.processed = cp.ProcessedCount
		pc.success = cp.SuccessCount
		pc.failed = cp.FailedCount
	}
}

// AddProfile registers an assigned profile and its share of the queue
func (a *Aggregator) AddProfile(id string, assigned int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.profiles[id]; !ok {
		a.order = append(a.order, id)
	}
	a.profiles[id] = &profileCounters{status: campaign.ProfileQueued, assigned: assigned}
}

// SetProfileStatus updates the campaign-scoped sub-state of a profile
func (a *Aggregator) SetProfileStatus(id string, st campaign.ProfileStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.profiles[id]; ok {
		p.status = st
	}
}

// Record folds one outcome event in. Replaying the same event (same
// contact and timestamp) is a no-op, so at-least-once delivery of events
// cannot double-count. Returns false for duplicates.
func (a *Aggregator) Record(ev campaign.OutcomeEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ev.ContactID + "|" + strconv.FormatInt(ev.At.UnixNano(), 10)
	if _, dup := a.seen[key]; dup {
		return false
	}
	a.seen[key] = struct{}{}

	a.processed++
	switch ev.Result {
	case campaign.ResultSuccess:
		a.success++
	case campaign.ResultFailed:
		a.failed++
		if ev.Err != "" {
			a.errCounts[ev.Err]++
		}
	case campaign.ResultSkipped:
		a.skipped++
	}

	if p, ok := a.profiles[ev.ProfileID]; ok {
		p.processed++
		switch ev.Result {
		case campaign.ResultSuccess:
			p.success++
		case campaign.ResultFailed:
			p.failed++
		}
	}

	if ev.Result != campaign.ResultSkipped {
		a.sendTimes = append(a.sendTimes, ev.At)
	}
	return true
}

// Remaining returns the number of unprocessed items
func (a *Aggregator) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total - a.processed
}

// Rate returns the trailing-window throughput in contacts per minute. The
// effective window is the shorter of the configured window and the time
// since the run started, so early readings stay responsive.
func (a *Aggregator) Rate(now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(now)
}

func (a *Aggregator) rate(now time.Time) float64 {
	window := a.window
	if lived := now.Sub(a.startedAt); lived > 0 && lived < window {
		window = lived
	}
	if window <= 0 {
		return 0
	}

	cutoff := now.Add(-window)
	n := 0
	for _, t := range a.sendTimes {
		if !t.Before(cutoff) {
			n++
		}
	}
	return float64(n) / window.Minutes()
}

// Snapshot derives an immutable progress view for readers
func (a *Aggregator) Snapshot(now time.Time, status campaign.Status) campaign.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := campaign.Progress{
		CampaignID: a.campaignID,
		Status:     status,
		Total:      a.total,
		Processed:  a.processed,
		Success:    a.success,
		Failed:     a.failed,
		Skipped:    a.skipped,
	}

	rate := a.rate(now)
	p.ContactsPerMinute = rate

	remaining := a.total - a.processed
	if rate > 0 && remaining > 0 {
		secs := int64(float64(remaining) / rate * 60)
		eta := now.Add(time.Duration(secs) * time.Second)
		p.EstimatedSecondsRemaining = &secs
		p.EstimatedCompletionTime = &eta
	}

	for _, id := range a.order {
		pc := a.profiles[id]
		p.Profiles = append(p.Profiles, campaign.ProfileProgress{
			ProfileID: id,
			Status:    pc.status,
			Assigned:  pc.assigned,
			Processed: pc.processed,
			Success:   pc.success,
			Failed:    pc.failed,
		})
	}

	p.TopErrors = a.topErrors(5)
	return p
}

// ApplyTo copies the authoritative counters onto the campaign record.
// Called on the engine's single-writer path before persistence.
func (a *Aggregator) ApplyTo(c *campaign.Campaign) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c.TotalContacts = a.total
	c.ProcessedContacts = a.processed
	c.SuccessfulContacts = a.success
	c.FailedContacts = a.failed
	c.SkippedContacts = a.skipped

	byID := make(map[string]*campaign.Profile, len(c.Profiles))
	for _, cp := range c.Profiles {
		byID[cp.ProfileID] = cp
	}
	for id, pc := range a.profiles {
		cp, ok := byID[id]
		if !ok {
			cp = &campaign.Profile{ProfileID: id}
			c.Profiles = append(c.Profiles, cp)
		}
		cp.Status = pc.status
		cp.AssignedCount = pc.assigned
		cp.ProcessedCount = pc.processed
		cp.SuccessCount = pc.success
		cp.FailedCount = pc.failed
	}
}

func (a *Aggregator) topErrors(n int) []campaign.ErrorCount {
	if len(a.errCounts) == 0 {
		return nil
	}
	out := make([]campaign.ErrorCount, 0, len(a.errCounts))
	for msg, cnt := range a.errCounts {
		out = append(out, campaign.ErrorCount{Message: msg, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

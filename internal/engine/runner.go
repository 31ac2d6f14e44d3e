package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/dispatch"
	"github.com/mtelegin/herald/internal/metrics"
	"github.com/mtelegin/herald/internal/notify"
	"github.com/mtelegin/herald/internal/profiles"
	"github.com/mtelegin/herald/internal/progress"
	"github.com/mtelegin/herald/internal/throttle"
)

// launch takes a QUEUED (or, when resume is set, PAUSED/ERROR/RUNNING)
// campaign through queue materialization, slot acquisition and into a
// runner goroutine.
func (e *Engine) launch(id string, resume bool) error {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if _, active := e.runs[id]; active {
		e.mu.Unlock()
		return nil
	}
	profileIDs := append([]string(nil), c.ProfileIDs...)
	opts := c.Options
	e.mu.Unlock()

	ctx := context.Background()

	profs, err := e.usableProfiles(ctx, profileIDs)
	if err != nil {
		return err
	}

	items, err := e.materializeQueue(ctx, c, resume)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	controllers := make(map[string]*throttle.Controller, len(profs))
	for _, p := range profs {
		prev, err := e.store.LoadThrottleState(p.ID)
		if err != nil {
			e.logger.Warn("failed to load throttle state",
				"profile_id", p.ID, "error", err)
		}
		controllers[p.ID] = throttle.New(
			throttle.Limits{
				MinDelay:   p.Limits.MinDelay,
				MaxDelay:   p.Limits.MaxDelay,
				MaxPerHour: p.Limits.MaxPerHour,
				MaxPerDay:  p.Limits.MaxPerDay,
			},
			throttle.Warmup{
				Enabled:    opts.WarmupEnabled,
				StartRate:  float64(opts.WarmupStartRate),
				TargetRate: float64(opts.WarmupTargetRate),
				Duration:   time.Duration(opts.WarmupDurationHours) * time.Hour,
			},
			prev,
		)
	}

	e.mu.Lock()
	runCtx, cancel := context.WithCancel(context.Background())

	startedAt := time.Now()
	if c.StartedAt != nil {
		startedAt = *c.StartedAt
	}
	agg := progress.NewAggregator(id, c.TotalContacts, startedAt, e.cfg.ProgressWindow)
	for _, p := range profs {
		agg.AddProfile(p.ID, 0)
		agg.SetProfileStatus(p.ID, campaign.ProfileRunning)
	}
	if resume {
		agg.Seed(c)
	}

	policy := progress.NewPolicy(opts)
	if resume {
		policy.SeedFailures(c.FailedContacts)
	}

	milestones := notify.NewMilestones()
	// thresholds already passed before a resume must not re-fire
	milestones.Cross(c.ProcessedContacts, c.TotalContacts)

	d, derr := dispatch.New(dispatch.Config{
		RunID:        runID,
		Campaign:     c,
		Items:        items,
		Profiles:     profs,
		Controllers:  controllers,
		Driver:       e.driver,
		Slots:        e.slots,
		ThrottleTick: e.cfg.DispatchTick,
		SendRetries:  e.cfg.SendRetries,
		Renderer:     e.renderer,
		OnOutcome:    e.outcomeHandler(id, agg, policy, milestones),
		Logger:       e.logger,
	})
	if derr != nil {
		cancel()
		e.mu.Unlock()
		return ErrProfileUnavailable
	}

	if c.Status != campaign.StatusRunning {
		if err := e.transitionLocked(c, campaign.StatusRunning, ""); err != nil {
			cancel()
			e.mu.Unlock()
			e.slots.ReleaseRun(runID)
			return err
		}
	}
	if c.StartedAt == nil {
		c.StartedAt = &startedAt
	}
	c.PauseReason = ""
	c.PausedAt = nil
	if err := e.persistLocked(c); err != nil {
		cancel()
		e.mu.Unlock()
		e.slots.ReleaseRun(runID)
		return err
	}

	r := &run{runID: runID, cancel: cancel, agg: agg, done: make(chan struct{})}
	e.runs[id] = r
	e.mu.Unlock()

	if !resume {
		e.notify(notify.Event{
			Kind:       notify.CampaignStarted,
			CampaignID: id,
			Campaign:   c.Name,
			At:         time.Now(),
		})
	}
	metrics.AddCampaignsRunning(1)

	e.wg.Add(1)
	go e.runCampaign(runCtx, c, r, d)
	return nil
}

// usableProfiles resolves and filters the assigned profiles
func (e *Engine) usableProfiles(ctx context.Context, ids []string) ([]profiles.Profile, error) {
	all, err := e.registry.List(ctx, ids)
	if err != nil {
		return nil, err
	}
	usable := make([]profiles.Profile, 0, len(all))
	for _, p := range all {
		if p.Enabled {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, ErrProfileUnavailable
	}
	return usable, nil
}

// materializeQueue builds the work queue for a fresh run or reloads the
// remaining items for a resumed one. The selection is made exactly once
// per run.
func (e *Engine) materializeQueue(ctx context.Context, c *campaign.Campaign, resume bool) ([]campaign.WorkItem, error) {
	if resume {
		items, err := e.store.LoadQueue(c.ID)
		if err != nil {
			return nil, err
		}
		return items, nil
	}

	items, stats, err := e.selector.Build(ctx, c, time.Now())
	if err != nil {
		return nil, err
	}
	e.logger.Info("queue materialized",
		"campaign_id", c.ID,
		"considered", stats.Considered,
		"selected", stats.Selected,
		"skipped", stats.Skipped)
	for reason, n := range stats.Skipped {
		metrics.AddContactsSkipped(reason, float64(n))
	}

	if err := e.store.SaveQueue(c.ID, items); err != nil {
		return nil, err
	}

	e.mu.Lock()
	c.TotalContacts = len(items)
	c.ProcessedContacts = 0
	c.SuccessfulContacts = 0
	c.FailedContacts = 0
	c.SkippedContacts = 0
	c.Profiles = nil
	c.CompletedAt = nil
	err = e.persistLocked(c)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return items, nil
}

// outcomeHandler is the single-writer sink for dispatch outcomes
func (e *Engine) outcomeHandler(id string, agg *progress.Aggregator, policy *progress.Policy, milestones *notify.Milestones) func(campaign.OutcomeEvent) {
	var loginMu sync.Mutex
	loginNotified := make(map[string]bool)

	return func(ev campaign.OutcomeEvent) {
		if !agg.Record(ev) {
			return
		}

		// One login alert per profile per run, not one per contact.
		if ev.LoginRequired {
			loginMu.Lock()
			first := !loginNotified[ev.ProfileID]
			loginNotified[ev.ProfileID] = true
			loginMu.Unlock()
			if first {
				e.logger.Warn("profile session dropped, login required",
					"campaign_id", id, "profile_id", ev.ProfileID)
				e.notify(notify.Event{
					Kind:       notify.LoginRequired,
					CampaignID: id,
					ProfileID:  ev.ProfileID,
					Detail:     ev.Err,
					At:         time.Now(),
				})
			}
		}

		switch ev.Result {
		case campaign.ResultSuccess:
			metrics.IncContactsSent(string(ev.Channel))
		case campaign.ResultFailed:
			metrics.IncContactsFailed(string(ev.Channel))
		case campaign.ResultSkipped:
			metrics.IncContactsSkipped("no_channel")
		}

		if ev.Result != campaign.ResultSkipped {
			if err := e.contacts.MarkCampaigned(context.Background(), ev.ContactID, ev.At); err != nil {
				e.logger.Warn("failed to record campaign history",
					"contact_id", ev.ContactID, "error", err)
			}
		}

		snap := agg.Snapshot(time.Now(), campaign.StatusRunning)
		for _, pct := range milestones.Cross(snap.Processed, snap.Total) {
			e.notify(notify.Event{
				Kind:       notify.ProgressMilestone,
				CampaignID: id,
				Percent:    pct,
				At:         time.Now(),
			})
		}

		if dec := policy.Observe(ev); dec != nil {
			e.logger.Warn("error policy tripped",
				"campaign_id", id, "reason", dec.Reason, "profile_id", dec.ProfileID)
			metrics.IncCampaignPauses(dec.Reason)
			if dec.ProfileID != "" {
				agg.SetProfileStatus(dec.ProfileID, campaign.ProfileError)
				e.notify(notify.Event{
					Kind:       notify.ProfileIssue,
					CampaignID: id,
					ProfileID:  dec.ProfileID,
					Detail:     dec.Reason,
					At:         time.Now(),
				})
			}
			// Stop dispatch before the handler returns so no further
			// items are pulled after the threshold fired.
			if err := e.pause(id, dec.Reason); err != nil {
				e.logger.Error("policy pause failed",
					"campaign_id", id, "error", err)
			}
		}
	}
}

// runCampaign drives one dispatch run to its final state
func (e *Engine) runCampaign(ctx context.Context, c *campaign.Campaign, r *run, d *dispatch.Dispatcher) {
	defer e.wg.Done()
	defer metrics.AddCampaignsRunning(-1)

	flushDone := make(chan struct{})
	go e.flushLoop(ctx, c.ID, r, d, flushDone)

	d.Run(ctx)
	// The flush loop watches the same context; release it when the
	// queue drains on its own.
	r.cancel()
	<-flushDone

	remaining := d.Remaining()
	e.saveThrottleStates(d)

	e.mu.Lock()
	r.agg.ApplyTo(c)
	reason := r.stopReason()

	switch reason {
	case stopCancel:
		// Cancel() already moved the campaign and discards the queue;
		// only the final counters still need to land
		if err := e.persistLocked(c); err != nil {
			e.logger.Error("failed to persist cancelled campaign",
				"campaign_id", c.ID, "error", err)
		}

	case stopPause:
		if err := e.store.SaveQueue(c.ID, remaining); err != nil {
			e.logger.Error("failed to persist remaining queue",
				"campaign_id", c.ID, "error", err)
		}
		if err := e.persistLocked(c); err != nil {
			e.logger.Error("failed to persist paused campaign",
				"campaign_id", c.ID, "error", err)
		}

	case stopShutdown:
		// keep RUNNING in the store so Recover picks the campaign up
		if err := e.store.SaveQueue(c.ID, remaining); err != nil {
			e.logger.Error("failed to persist remaining queue",
				"campaign_id", c.ID, "error", err)
		}
		if err := e.persistLocked(c); err != nil {
			e.logger.Error("failed to persist campaign at shutdown",
				"campaign_id", c.ID, "error", err)
		}

	case stopFault:
		// fatalFault already moved the campaign to ERROR; keep the
		// queue so a resume can retry once the store is healthy again
		if err := e.store.SaveQueue(c.ID, remaining); err != nil {
			e.logger.Error("failed to persist remaining queue",
				"campaign_id", c.ID, "error", err)
		}
		if err := e.persistLocked(c); err != nil {
			e.logger.Error("failed to persist faulted campaign",
				"campaign_id", c.ID, "error", err)
		}

	default:
		e.finishLocked(c, remaining)
	}

	snap := r.agg.Snapshot(time.Now(), c.Status)
	if err := e.store.SaveSnapshot(&snap); err != nil {
		e.logger.Warn("failed to persist progress snapshot",
			"campaign_id", c.ID, "error", err)
	}

	delete(e.runs, c.ID)
	e.mu.Unlock()

	metrics.DeleteQueueRemaining(c.ID)
	close(r.done)
}

// finishLocked completes a drained run and re-arms recurring campaigns.
// Caller holds e.mu.
func (e *Engine) finishLocked(c *campaign.Campaign, remaining []campaign.WorkItem) {
	if len(remaining) > 0 {
		// queue did not drain and nobody asked us to stop: every
		// profile became unusable mid-run
		if err := e.store.SaveQueue(c.ID, remaining); err != nil {
			e.logger.Error("failed to persist remaining queue",
				"campaign_id", c.ID, "error", err)
		}
		if err := e.transitionLocked(c, campaign.StatusError, "profiles exhausted"); err == nil {
			now := time.Now()
			c.PausedAt = &now
			c.PauseReason = "profiles exhausted"
		}
		if err := e.persistLocked(c); err != nil {
			e.logger.Error("failed to persist errored campaign",
				"campaign_id", c.ID, "error", err)
		}
		e.notify(notify.Event{
			Kind:       notify.CampaignError,
			CampaignID: c.ID,
			Campaign:   c.Name,
			Detail:     "profiles exhausted",
			At:         time.Now(),
		})
		metrics.IncCampaignsTotal(string(campaign.StatusError))
		return
	}

	now := time.Now()
	if err := e.transitionLocked(c, campaign.StatusCompleted, ""); err != nil {
		e.logger.Error("failed to complete campaign",
			"campaign_id", c.ID, "error", err)
		return
	}
	c.CompletedAt = &now
	if err := e.store.DeleteQueue(c.ID); err != nil {
		e.logger.Warn("failed to drop queue", "campaign_id", c.ID, "error", err)
	}
	if err := e.persistLocked(c); err != nil {
		e.logger.Error("failed to persist completed campaign",
			"campaign_id", c.ID, "error", err)
	}
	e.notify(notify.Event{
		Kind:       notify.CampaignCompleted,
		CampaignID: c.ID,
		Campaign:   c.Name,
		At:         now,
	})
	metrics.IncCampaignsTotal(string(campaign.StatusCompleted))

	e.rearmLocked(c, now)
}

// rearmLocked schedules the next occurrence of a recurring campaign.
// Caller holds e.mu.
func (e *Engine) rearmLocked(c *campaign.Campaign, lastRun time.Time) {
	if c.Type != campaign.TypeScheduled || c.Schedule.Recurrence == campaign.RecurrenceNone {
		return
	}

	next, ok, err := e.scheduler.NextOccurrence(c.Schedule, lastRun, lastRun)
	if err != nil {
		e.logger.Warn("recurrence re-arm failed",
			"campaign_id", c.ID, "error", err)
		return
	}
	if !ok {
		e.logger.Info("recurrence finished", "campaign_id", c.ID)
		return
	}

	if err := e.transitionLocked(c, campaign.StatusScheduled, "recurrence"); err != nil {
		e.logger.Error("re-arm transition failed",
			"campaign_id", c.ID, "error", err)
		return
	}
	c.ScheduledAt = &next
	c.StartedAt = nil
	c.PausedAt = nil
	c.CompletedAt = nil
	c.PauseReason = ""
	// the finished run's counters must not show up as progress of the
	// next occurrence
	c.TotalContacts = 0
	c.ProcessedContacts = 0
	c.SuccessfulContacts = 0
	c.FailedContacts = 0
	c.SkippedContacts = 0
	c.Profiles = nil
	if err := e.persistLocked(c); err != nil {
		e.logger.Error("failed to persist re-armed campaign",
			"campaign_id", c.ID, "error", err)
		return
	}
	e.logger.Info("campaign re-armed",
		"campaign_id", c.ID, "next_run", next)
}

// flushLoop periodically persists progress snapshots and throttle
// counters while a run is active.
func (e *Engine) flushLoop(ctx context.Context, id string, r *run, d *dispatch.Dispatcher, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := r.agg.Snapshot(now, campaign.StatusRunning)
			if err := e.store.SaveSnapshot(&snap); err != nil {
				e.fatalFault(id, err)
				return
			}
			metrics.SetQueueRemaining(id, float64(snap.Total-snap.Processed))
			e.saveThrottleStates(d)
		}
	}
}

// fatalFault moves a running campaign to ERROR after a persistence
// failure and stops its dispatch. The remaining queue is saved on a
// best-effort basis during run finalization.
func (e *Engine) fatalFault(id string, cause error) {
	fault := &FatalFaultError{CampaignID: id, Err: cause}
	e.logger.Error("fatal dispatch fault", "campaign_id", id, "error", cause)

	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	if err := e.transitionLocked(c, campaign.StatusError, "fatal fault"); err != nil {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	c.PausedAt = &now
	c.PauseReason = fault.Error()
	if err := e.persistLocked(c); err != nil {
		e.logger.Error("failed to persist faulted campaign",
			"campaign_id", id, "error", err)
	}
	name := c.Name
	r := e.runs[id]
	e.mu.Unlock()

	if r != nil {
		r.setReason(stopFault)
		r.cancel()
	}
	e.notify(notify.Event{
		Kind:       notify.CampaignError,
		CampaignID: id,
		Campaign:   name,
		Detail:     fault.Error(),
		At:         time.Now(),
	})
	metrics.IncCampaignsTotal(string(campaign.StatusError))
}

func (e *Engine) saveThrottleStates(d *dispatch.Dispatcher) {
	for id, st := range d.ThrottleStates() {
		if err := e.store.SaveThrottleState(id, st); err != nil {
			e.logger.Warn("failed to persist throttle state",
				"profile_id", id, "error", err)
		}
	}
}

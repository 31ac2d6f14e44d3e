// Package engine orchestrates campaign lifecycles: the state machine,
// per-campaign runner goroutines, the scheduler loop and crash recovery.
// It is the only writer of campaign state; everything readers get is a
// copy.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/contacts"
	"github.com/mtelegin/herald/internal/dispatch"
	"github.com/mtelegin/herald/internal/metrics"
	"github.com/mtelegin/herald/internal/notify"
	"github.com/mtelegin/herald/internal/profiles"
	"github.com/mtelegin/herald/internal/progress"
	"github.com/mtelegin/herald/internal/schedule"
	"github.com/mtelegin/herald/internal/selector"
	"github.com/mtelegin/herald/internal/store"
	"github.com/mtelegin/herald/internal/template"
	"github.com/mtelegin/herald/internal/transport"
)

// Config tunes the engine loops
type Config struct {
	DispatchTick     time.Duration // throttle re-check interval
	TransportTimeout time.Duration
	ProgressWindow   time.Duration // trailing rate window
	SnapshotInterval time.Duration // progress flush cadence
	SchedulerTick    time.Duration // scheduled-campaign poll cadence
	AutoResumeDelay  time.Duration // wait before auto-resuming paused campaigns
	SendRetries      int           // extra same-channel attempts per contact

	// Operator defaults for campaigns that enable a work window
	// without spelling it out.
	DefaultWorkHoursStart string
	DefaultWorkHoursEnd   string
	DefaultWorkDays       []int
}

func (c *Config) setDefaults() {
	if c.DispatchTick <= 0 {
		c.DispatchTick = 5 * time.Second
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = 2 * time.Minute
	}
	if c.ProgressWindow <= 0 {
		c.ProgressWindow = 5 * time.Minute
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 10 * time.Second
	}
	if c.SchedulerTick <= 0 {
		c.SchedulerTick = 30 * time.Second
	}
	if c.AutoResumeDelay <= 0 {
		c.AutoResumeDelay = 15 * time.Minute
	}
}

// stop reasons recorded before a run context is cancelled, so the
// runner knows which final state the campaign already moved to.
const (
	stopPause    = "pause"
	stopCancel   = "cancel"
	stopShutdown = "shutdown"
	stopFault    = "fault"
)

type run struct {
	runID  string
	cancel context.CancelFunc
	agg    *progress.Aggregator
	done   chan struct{}

	mu     sync.Mutex
	reason string
}

func (r *run) setReason(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.mu.Unlock()
}

func (r *run) stopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Engine owns all campaigns and their runs
type Engine struct {
	cfg       Config
	store     *store.Store
	contacts  contacts.Store
	registry  profiles.Registry
	driver    transport.Driver
	scheduler *schedule.Scheduler
	selector  *selector.Selector
	slots     *dispatch.Slots
	renderer  *template.Engine
	sink      notify.Sink
	logger    *slog.Logger

	mu        sync.Mutex
	campaigns map[string]*campaign.Campaign
	runs      map[string]*run

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates the engine. Call Recover before Start to resume
// interrupted runs.
func New(cfg Config, st *store.Store, cs contacts.Store, reg profiles.Registry, driver transport.Driver, sink notify.Sink, logger *slog.Logger) (*Engine, error) {
	cfg.setDefaults()
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}

	e := &Engine{
		cfg:       cfg,
		store:     st,
		contacts:  cs,
		registry:  reg,
		driver:    transport.NewBounded(driver, cfg.TransportTimeout),
		scheduler: schedule.New(),
		selector:  selector.New(cs),
		slots:     dispatch.NewSlots(),
		renderer:  template.NewEngine(),
		sink:      sink,
		logger:    logger.With("component", "engine"),
		campaigns: make(map[string]*campaign.Campaign),
		runs:      make(map[string]*run),
		stopCh:    make(chan struct{}),
	}

	all, err := st.ListCampaigns()
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}
	for _, c := range all {
		e.campaigns[c.ID] = c
	}
	return e, nil
}

// Create validates and stores a new campaign in DRAFT
func (e *Engine) Create(c *campaign.Campaign) (*campaign.Campaign, error) {
	e.applyScheduleDefaults(c)
	if err := validate(c); err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()
	c.Status = campaign.StatusDraft
	c.CreatedAt = time.Now()

	if err := e.store.SaveCampaign(c); err != nil {
		return nil, fmt.Errorf("failed to save campaign: %w", err)
	}

	e.mu.Lock()
	e.campaigns[c.ID] = c
	e.mu.Unlock()

	e.logger.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	return c.Clone(), nil
}

// applyScheduleDefaults fills an enabled but unspecified work window
// from the operator defaults.
func (e *Engine) applyScheduleDefaults(c *campaign.Campaign) {
	s := &c.Schedule
	if s.WorkHoursEnabled && s.WorkHoursStart == "" && s.WorkHoursEnd == "" {
		s.WorkHoursStart = e.cfg.DefaultWorkHoursStart
		s.WorkHoursEnd = e.cfg.DefaultWorkHoursEnd
	}
	if s.WorkDaysEnabled && len(s.WorkDays) == 0 {
		s.WorkDays = append([]int(nil), e.cfg.DefaultWorkDays...)
	}
}

func validate(c *campaign.Campaign) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(c.Template) == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if err := template.NewEngine().Validate(c.Template); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(c.ProfileIDs) == 0 {
		return fmt.Errorf("%w: at least one profile is required", ErrValidation)
	}
	switch c.Messenger {
	case campaign.MessengerWhatsApp, campaign.MessengerTelegram:
	case campaign.MessengerUniversal:
		switch c.UniversalTarget {
		case campaign.TargetWhatsAppFirst, campaign.TargetTelegramFirst, campaign.TargetBoth:
		default:
			return fmt.Errorf("%w: universal campaign needs a target preference", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown messenger %q", ErrValidation, c.Messenger)
	}
	if c.Type == "" {
		c.Type = campaign.TypeOneTime
	}
	if c.Schedule.Recurrence == "" {
		c.Schedule.Recurrence = campaign.RecurrenceNone
	}
	return nil
}

// Get returns a copy of one campaign
func (e *Engine) Get(id string) (*campaign.Campaign, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// List returns copies of all campaigns
func (e *Engine) List() []*campaign.Campaign {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*campaign.Campaign, 0, len(e.campaigns))
	for _, c := range e.campaigns {
		out = append(out, c.Clone())
	}
	return out
}

// Progress returns the current progress snapshot for a campaign. For an
// active run it is computed live; otherwise the last persisted snapshot
// or a view derived from the campaign counters.
func (e *Engine) Progress(id string) (campaign.Progress, error) {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return campaign.Progress{}, ErrNotFound
	}
	status := c.Status
	r := e.runs[id]
	e.mu.Unlock()

	if r != nil {
		return r.agg.Snapshot(time.Now(), status), nil
	}
	if snap, err := e.store.LoadSnapshot(id); err == nil {
		snap.Status = status
		return *snap, nil
	}

	cc, _ := e.Get(id)
	return campaign.Progress{
		CampaignID: id,
		Status:     status,
		Total:      cc.TotalContacts,
		Processed:  cc.ProcessedContacts,
		Success:    cc.SuccessfulContacts,
		Failed:     cc.FailedContacts,
		Skipped:    cc.SkippedContacts,
	}, nil
}

// Schedule moves a draft campaign to SCHEDULED at the given time. A
// schedule that admits no work window is accepted with a warning; the
// campaign stays SCHEDULED until the window opens up.
func (e *Engine) Schedule(id string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if _, err := e.scheduler.NextEligible(c.Schedule, at); err != nil {
		e.logger.Warn("campaign schedule admits no work window",
			"campaign_id", id, "error", err)
	}
	if err := e.transitionLocked(c, campaign.StatusScheduled, ""); err != nil {
		return err
	}
	c.ScheduledAt = &at
	return e.persistLocked(c)
}

// Start queues a campaign for immediate execution
func (e *Engine) Start(id string) error {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if err := e.transitionLocked(c, campaign.StatusQueued, ""); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.persistLocked(c); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	return e.launch(id, false)
}

// Pause stops a running campaign, keeping the remaining queue
func (e *Engine) Pause(id string) error {
	return e.pause(id, "manual")
}

func (e *Engine) pause(id, reason string) error {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if err := e.transitionLocked(c, campaign.StatusPaused, reason); err != nil {
		e.mu.Unlock()
		return err
	}
	now := time.Now()
	c.PausedAt = &now
	c.PauseReason = reason
	if err := e.persistLocked(c); err != nil {
		e.mu.Unlock()
		return err
	}
	name := c.Name
	r := e.runs[id]
	e.mu.Unlock()

	if r != nil {
		r.setReason(stopPause)
		r.cancel()
	}
	e.notify(notify.Event{
		Kind:       notify.CampaignPaused,
		CampaignID: id,
		Campaign:   name,
		Detail:     reason,
		At:         time.Now(),
	})
	return nil
}

// Resume restarts a paused or errored campaign from its remaining queue
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if err := checkTransition(c.Status, campaign.StatusRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	prev := e.runs[id]
	e.mu.Unlock()

	// a pause cancels the run asynchronously; wait for its finalization
	// so the remaining queue is persisted before we reload it
	if prev != nil {
		<-prev.done
	}
	return e.launch(id, true)
}

// Cancel terminally stops a campaign and discards its queue
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if err := e.transitionLocked(c, campaign.StatusCancelled, ""); err != nil {
		e.mu.Unlock()
		return err
	}
	now := time.Now()
	c.CompletedAt = &now
	if err := e.persistLocked(c); err != nil {
		e.mu.Unlock()
		return err
	}
	r := e.runs[id]
	e.mu.Unlock()

	if r != nil {
		r.setReason(stopCancel)
		r.cancel()
		<-r.done
	}
	if err := e.store.DeleteQueue(id); err != nil {
		e.logger.Warn("failed to discard queue", "campaign_id", id, "error", err)
	}
	e.notify(notify.Event{Kind: notify.CampaignCancelled, CampaignID: id, At: time.Now()})
	metrics.IncCampaignsTotal(string(campaign.StatusCancelled))
	return nil
}

// Delete removes a campaign that is not active
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	switch c.Status {
	case campaign.StatusRunning, campaign.StatusQueued, campaign.StatusPaused:
		return &InvalidTransitionError{From: c.Status, To: "deleted"}
	}
	if err := e.store.DeleteCampaign(id); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	delete(e.campaigns, id)
	return nil
}

// transitionLocked applies a lifecycle transition. Caller holds e.mu.
func (e *Engine) transitionLocked(c *campaign.Campaign, to campaign.Status, reason string) error {
	if err := checkTransition(c.Status, to); err != nil {
		return err
	}
	from := c.Status
	c.Status = to
	e.logger.Info("campaign transition",
		"campaign_id", c.ID, "from", from, "to", to, "reason", reason)
	return nil
}

func (e *Engine) persistLocked(c *campaign.Campaign) error {
	if err := e.store.SaveCampaign(c); err != nil {
		return fmt.Errorf("failed to persist campaign %s: %w", c.ID, err)
	}
	return nil
}

func (e *Engine) notify(ev notify.Event) {
	e.sink.Notify(ev)
}

// StartLoops launches the scheduler loop. Stop with Shutdown.
func (e *Engine) StartLoops() {
	e.wg.Add(1)
	go e.schedulerLoop()
}

// Shutdown stops the loops and all running campaigns, persisting their
// remaining queues so Recover can resume them.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.stopCh)

	e.mu.Lock()
	active := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		r.setReason(stopShutdown)
		active = append(active, r)
	}
	e.mu.Unlock()

	for _, r := range active {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover resumes campaigns that were RUNNING or QUEUED when the
// process stopped. Remaining work items and throttle counters come from
// the store.
func (e *Engine) Recover() error {
	stale, err := e.store.ListByStatus(campaign.StatusRunning, campaign.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list interrupted campaigns: %w", err)
	}
	for _, c := range stale {
		e.logger.Info("recovering interrupted campaign",
			"campaign_id", c.ID, "status", c.Status)
		if err := e.launch(c.ID, true); err != nil {
			e.logger.Error("failed to recover campaign",
				"campaign_id", c.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) schedulerLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// tick promotes due scheduled campaigns and auto-resumes paused ones
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	var due, autoResume []string
	for id, c := range e.campaigns {
		switch c.Status {
		case campaign.StatusScheduled:
			if c.ScheduledAt == nil || c.ScheduledAt.After(now) {
				continue
			}
			next, err := e.scheduler.NextEligible(c.Schedule, now)
			if err != nil {
				e.logger.Warn("campaign has no eligible work window",
					"campaign_id", id, "error", err)
				continue
			}
			if next.After(now) {
				continue
			}
			due = append(due, id)
		case campaign.StatusPaused, campaign.StatusError:
			if c.Options.AutoResumeEnabled && c.PausedAt != nil &&
				now.Sub(*c.PausedAt) >= e.cfg.AutoResumeDelay {
				autoResume = append(autoResume, id)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		e.mu.Lock()
		c := e.campaigns[id]
		err := e.transitionLocked(c, campaign.StatusQueued, "schedule due")
		if err == nil {
			err = e.persistLocked(c)
		}
		e.mu.Unlock()
		if err != nil {
			e.logger.Error("failed to queue scheduled campaign",
				"campaign_id", id, "error", err)
			continue
		}
		if err := e.launch(id, false); err != nil {
			e.logger.Error("failed to start scheduled campaign",
				"campaign_id", id, "error", err)
		}
	}

	for _, id := range autoResume {
		e.logger.Info("auto-resuming campaign", "campaign_id", id)
		if err := e.Resume(id); err != nil {
			e.logger.Warn("auto-resume failed", "campaign_id", id, "error", err)
		}
	}
}

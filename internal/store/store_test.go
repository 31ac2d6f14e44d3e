package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/throttle"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "herald.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCampaignRoundTrip(t *testing.T) {
	s := openTestStore(t)

	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c := &campaign.Campaign{
		ID:         "camp-1",
		Name:       "spring promo",
		Type:       campaign.TypeScheduled,
		Messenger:  campaign.MessengerUniversal,
		Status:     campaign.StatusRunning,
		Template:   "hello",
		ProfileIDs: []string{"p1", "p2"},
		Schedule: campaign.ScheduleConfig{
			Timezone:        "Europe/Berlin",
			WorkDaysEnabled: true,
			WorkDays:        []int{1, 2, 3, 4, 5},
			Recurrence:      campaign.RecurrenceWeekly,
		},
		TotalContacts: 100,
		StartedAt:     &started,
	}
	if err := s.SaveCampaign(c); err != nil {
		t.Fatalf("SaveCampaign() error: %v", err)
	}

	got, err := s.GetCampaign("camp-1")
	if err != nil {
		t.Fatalf("GetCampaign() error: %v", err)
	}
	if got.Name != c.Name || got.Status != c.Status || got.TotalContacts != 100 {
		t.Errorf("loaded campaign differs: %+v", got)
	}
	if len(got.Schedule.WorkDays) != 5 {
		t.Errorf("work days = %v, want 5 entries", got.Schedule.WorkDays)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started at = %v, want %v", got.StartedAt, started)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCampaign("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCampaign() error = %v, want ErrNotFound", err)
	}
}

func TestListByStatus(t *testing.T) {
	s := openTestStore(t)
	for _, c := range []*campaign.Campaign{
		{ID: "a", Status: campaign.StatusRunning},
		{ID: "b", Status: campaign.StatusScheduled},
		{ID: "c", Status: campaign.StatusRunning},
		{ID: "d", Status: campaign.StatusCompleted},
	} {
		if err := s.SaveCampaign(c); err != nil {
			t.Fatalf("SaveCampaign(%s) error: %v", c.ID, err)
		}
	}

	running, err := s.ListByStatus(campaign.StatusRunning, campaign.StatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus() error: %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("got %d campaigns, want 2", len(running))
	}
	for _, c := range running {
		if c.Status != campaign.StatusRunning {
			t.Errorf("campaign %s status = %s", c.ID, c.Status)
		}
	}
}

func TestQueueRoundTrip(t *testing.T) {
	s := openTestStore(t)

	items := []campaign.WorkItem{
		{ContactID: "c1", PhoneID: "ph1", Channel: campaign.ChannelWhatsApp},
		{ContactID: "c2", PhoneID: "ph2", Channel: campaign.ChannelTelegram},
	}
	if err := s.SaveQueue("camp-1", items); err != nil {
		t.Fatalf("SaveQueue() error: %v", err)
	}

	got, err := s.LoadQueue("camp-1")
	if err != nil {
		t.Fatalf("LoadQueue() error: %v", err)
	}
	if len(got) != 2 || got[0].ContactID != "c1" || got[1].Channel != campaign.ChannelTelegram {
		t.Errorf("loaded queue differs: %+v", got)
	}

	if err := s.DeleteQueue("camp-1"); err != nil {
		t.Fatalf("DeleteQueue() error: %v", err)
	}
	got, err = s.LoadQueue("camp-1")
	if err != nil {
		t.Fatalf("LoadQueue() after delete error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("queue not empty after delete: %+v", got)
	}
}

func TestThrottleStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if st, err := s.LoadThrottleState("p1"); err != nil || st != nil {
		t.Fatalf("LoadThrottleState() fresh = %v, %v; want nil, nil", st, err)
	}

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	want := throttle.State{
		HourlyCount: 12,
		DailyCount:  80,
		HourStart:   now,
		DayStart:    now.Add(-6 * time.Hour),
		FirstSendAt: now.Add(-48 * time.Hour),
	}
	if err := s.SaveThrottleState("p1", want); err != nil {
		t.Fatalf("SaveThrottleState() error: %v", err)
	}

	got, err := s.LoadThrottleState("p1")
	if err != nil {
		t.Fatalf("LoadThrottleState() error: %v", err)
	}
	if got == nil || got.HourlyCount != 12 || got.DailyCount != 80 || !got.FirstSendAt.Equal(want.FirstSendAt) {
		t.Errorf("loaded state differs: %+v", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	secs := int64(90)
	p := &campaign.Progress{
		CampaignID:                "camp-1",
		Status:                    campaign.StatusRunning,
		Total:                     100,
		Processed:                 40,
		Success:                   35,
		Failed:                    5,
		ContactsPerMinute:         6.5,
		EstimatedSecondsRemaining: &secs,
	}
	if err := s.SaveSnapshot(p); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}

	got, err := s.LoadSnapshot("camp-1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if got.Processed != 40 || got.ContactsPerMinute != 6.5 {
		t.Errorf("loaded snapshot differs: %+v", got)
	}
	if got.EstimatedSecondsRemaining == nil || *got.EstimatedSecondsRemaining != 90 {
		t.Errorf("eta = %v, want 90", got.EstimatedSecondsRemaining)
	}
}

func TestDeleteCampaignRemovesQueueAndSnapshot(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCampaign(&campaign.Campaign{ID: "camp-1", Status: campaign.StatusDraft}); err != nil {
		t.Fatalf("SaveCampaign() error: %v", err)
	}
	if err := s.SaveQueue("camp-1", []campaign.WorkItem{{ContactID: "c1"}}); err != nil {
		t.Fatalf("SaveQueue() error: %v", err)
	}
	if err := s.SaveSnapshot(&campaign.Progress{CampaignID: "camp-1"}); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}

	if err := s.DeleteCampaign("camp-1"); err != nil {
		t.Fatalf("DeleteCampaign() error: %v", err)
	}
	if _, err := s.GetCampaign("camp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("campaign still present after delete")
	}
	if items, _ := s.LoadQueue("camp-1"); len(items) != 0 {
		t.Errorf("queue still present after delete")
	}
	if _, err := s.LoadSnapshot("camp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("snapshot still present after delete")
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.SaveCampaign(&campaign.Campaign{ID: "camp-1", Status: campaign.StatusRunning}); err != nil {
		t.Fatalf("SaveCampaign() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()

	got, err := s.GetCampaign("camp-1")
	if err != nil {
		t.Fatalf("GetCampaign() after reopen error: %v", err)
	}
	if got.Status != campaign.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
}

func TestPruneFinished(t *testing.T) {
	s := openTestStore(t)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)
	recent := now.AddDate(0, 0, -5)

	seed := []*campaign.Campaign{
		{ID: "old-done", Status: campaign.StatusCompleted, CompletedAt: &old},
		{ID: "recent-done", Status: campaign.StatusCompleted, CompletedAt: &recent},
		{ID: "old-cancelled", Status: campaign.StatusCancelled, CompletedAt: &old},
		{ID: "running", Status: campaign.StatusRunning},
	}
	for _, c := range seed {
		if err := s.SaveCampaign(c); err != nil {
			t.Fatalf("SaveCampaign(%s) error: %v", c.ID, err)
		}
	}
	if err := s.SaveSnapshot(&campaign.Progress{CampaignID: "old-done"}); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}

	pruned, err := s.PruneFinished(now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneFinished() error: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	if _, err := s.GetCampaign("old-done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old-done still present after prune")
	}
	if _, err := s.LoadSnapshot("old-done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old-done snapshot still present after prune")
	}
	if _, err := s.GetCampaign("recent-done"); err != nil {
		t.Errorf("recent-done pruned unexpectedly: %v", err)
	}
	if _, err := s.GetCampaign("running"); err != nil {
		t.Errorf("running campaign pruned unexpectedly: %v", err)
	}
}

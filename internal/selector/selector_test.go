package selector

import (
	"context"
	"testing"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/contacts"
)

var testNow = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

func baseCampaign() *campaign.Campaign {
	return &campaign.Campaign{
		ID:        "camp-1",
		Messenger: campaign.MessengerWhatsApp,
	}
}

func seedStore() *contacts.Memory {
	return contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", RegionID: "r1", Status: "active", WhatsAppStatus: "active", TelegramStatus: "active"},
		contacts.Contact{ID: "c2", PhoneID: "p2", RegionID: "r1", Status: "active", WhatsAppStatus: "active", TelegramStatus: "none"},
		contacts.Contact{ID: "c3", PhoneID: "p3", RegionID: "r2", Status: "blocked", WhatsAppStatus: "active", TelegramStatus: "active"},
		contacts.Contact{ID: "c4", PhoneID: "p4", RegionID: "r2", Status: "active", WhatsAppStatus: "none", TelegramStatus: "active"},
	)
}

func TestBuildAllContacts(t *testing.T) {
	c := baseCampaign()
	items, stats, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("expected 4 items, got %d", len(items))
	}
	if stats.Considered != 4 || stats.Selected != 4 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestBuildRegionFilter(t *testing.T) {
	c := baseCampaign()
	c.Filter.RegionIDs = []string{"r1"}

	items, _, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items for region r1, got %d", len(items))
	}
}

func TestBuildClientStatusFilter(t *testing.T) {
	c := baseCampaign()
	c.Filter.ClientStatuses = []string{"active"}

	items, _, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, it := range items {
		if it.ContactID == "c3" {
			t.Error("blocked contact c3 should be filtered out")
		}
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
}

func TestBuildMessengerStatusFilter(t *testing.T) {
	c := baseCampaign()
	c.Filter.WhatsAppStatuses = []string{"active"}

	items, stats, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
	if stats.Skipped[SkipNoChannel] != 1 {
		t.Errorf("expected 1 no_channel skip, got %d", stats.Skipped[SkipNoChannel])
	}
}

func TestDedupWindow(t *testing.T) {
	store := contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", Status: "active", CampaignCount: 1, LastCampaignAt: daysAgo(5)},
	)

	// Campaigned 5 days ago, 30-day window: excluded
	c := baseCampaign()
	c.Options.DeduplicationEnabled = true
	c.Options.DeduplicationPeriodDays = 30

	items, stats, err := New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected contact inside dedup window to be excluded, got %d items", len(items))
	}
	if stats.Skipped[SkipDedupWindow] != 1 {
		t.Errorf("expected 1 dedup_window skip, got %d", stats.Skipped[SkipDedupWindow])
	}

	// Same contact, 3-day window: included
	c.Options.DeduplicationPeriodDays = 3
	items, _, err = New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected contact outside dedup window to be included, got %d items", len(items))
	}
}

func TestNeverCampaigned(t *testing.T) {
	store := contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", Status: "active"},
		contacts.Contact{ID: "c2", PhoneID: "p2", Status: "active", CampaignCount: 1, LastCampaignAt: daysAgo(400)},
	)

	c := baseCampaign()
	c.Filter.NeverCampaigned = true

	items, stats, err := New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 1 || items[0].ContactID != "c1" {
		t.Errorf("expected only c1, got %+v", items)
	}
	if stats.Skipped[SkipHasHistory] != 1 {
		t.Errorf("expected 1 has_history skip, got %d", stats.Skipped[SkipHasHistory])
	}
}

func TestMaxCampaignCount(t *testing.T) {
	store := contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", Status: "active", CampaignCount: 2},
		contacts.Contact{ID: "c2", PhoneID: "p2", Status: "active", CampaignCount: 3},
	)

	c := baseCampaign()
	c.Filter.MaxCampaignCount = 3

	items, stats, err := New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 1 || items[0].ContactID != "c1" {
		t.Errorf("expected only c1 under the cap, got %+v", items)
	}
	if stats.Skipped[SkipCampaignCap] != 1 {
		t.Errorf("expected 1 campaign_cap skip, got %d", stats.Skipped[SkipCampaignCap])
	}
}

func TestLimitContacts(t *testing.T) {
	c := baseCampaign()
	c.Filter.LimitContacts = 2

	items, _, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected limit of 2, got %d", len(items))
	}
}

func TestRandomOrderDeterministic(t *testing.T) {
	c := baseCampaign()
	c.Filter.RandomOrder = true

	first, _, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, _, err := New(seedStore()).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("shuffle not reproducible at %d: %+v vs %+v", i, first[i], second[i])
		}
	}

	// A different campaign id yields a different permutation (with 4
	// items this is overwhelmingly likely; both seeds are fixed here).
	c2 := baseCampaign()
	c2.ID = "camp-2"
	c2.Filter.RandomOrder = true
	third, _, err := New(seedStore()).Build(context.Background(), c2, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	same := true
	for i := range first {
		if first[i] != third[i] {
			same = false
			break
		}
	}
	if same {
		t.Log("warning: different seeds produced identical order")
	}
}

func TestUniversalChannelPreference(t *testing.T) {
	store := contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", Status: "active", WhatsAppStatus: "active", TelegramStatus: "active"},
		contacts.Contact{ID: "c2", PhoneID: "p2", Status: "active", WhatsAppStatus: "none", TelegramStatus: "active"},
	)

	c := baseCampaign()
	c.Messenger = campaign.MessengerUniversal
	c.UniversalTarget = campaign.TargetTelegramFirst
	c.Filter.WhatsAppStatuses = []string{"active"}
	c.Filter.TelegramStatuses = []string{"active"}

	items, _, err := New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, it := range items {
		if it.Channel != campaign.ChannelTelegram {
			t.Errorf("expected telegram-first channel for %s, got %s", it.ContactID, it.Channel)
		}
	}

	c.UniversalTarget = campaign.TargetWhatsAppFirst
	items, _, err = New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	byID := map[string]campaign.Channel{}
	for _, it := range items {
		byID[it.ContactID] = it.Channel
	}
	if byID["c1"] != campaign.ChannelWhatsApp {
		t.Errorf("c1 should prefer whatsapp, got %s", byID["c1"])
	}
	if byID["c2"] != campaign.ChannelTelegram {
		t.Errorf("c2 has no whatsapp, should fall back to telegram, got %s", byID["c2"])
	}
}

func TestLastCampaignBounds(t *testing.T) {
	store := contacts.NewMemory(
		contacts.Contact{ID: "c1", PhoneID: "p1", Status: "active", CampaignCount: 1, LastCampaignAt: daysAgo(10)},
		contacts.Contact{ID: "c2", PhoneID: "p2", Status: "active", CampaignCount: 1, LastCampaignAt: daysAgo(40)},
	)

	c := baseCampaign()
	c.Filter.LastCampaignBefore = daysAgo(30)

	items, _, err := New(store).Build(context.Background(), c, testNow)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(items) != 1 || items[0].ContactID != "c2" {
		t.Errorf("expected only c2 campaigned before the bound, got %+v", items)
	}
}

package profiles

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mtelegin/herald/internal/campaign"
)

func newTestRegistry(t *testing.T, defaults Limits) *SQLiteRegistry {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		channel TEXT NOT NULL,
		enabled INTEGER DEFAULT 1,
		max_per_hour INTEGER DEFAULT 0,
		max_per_day INTEGER DEFAULT 0,
		min_delay_seconds INTEGER DEFAULT 0,
		max_delay_seconds INTEGER DEFAULT 0
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return NewSQLiteRegistry(db, defaults)
}

func seedProfile(t *testing.T, r *SQLiteRegistry, id, channel string, enabled bool, maxPerHour int) {
	t.Helper()
	en := 0
	if enabled {
		en = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO profiles (id, name, channel, enabled, max_per_hour) VALUES (?, ?, ?, ?, ?)`,
		id, "profile "+id, channel, en, maxPerHour,
	)
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSQLiteRegistryGet(t *testing.T) {
	r := newTestRegistry(t, Limits{MaxPerHour: 30, MaxPerDay: 200, MinDelay: 10 * time.Second, MaxDelay: time.Minute})
	seedProfile(t, r, "p1", "both", true, 50)

	p, err := r.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !p.Enabled {
		t.Error("profile not enabled")
	}
	if !p.Supports(campaign.ChannelWhatsApp) || !p.Supports(campaign.ChannelTelegram) {
		t.Errorf("channels = %v, want both", p.Channels)
	}
	// Explicit limit kept, zero-valued ones fall back to defaults.
	if p.Limits.MaxPerHour != 50 {
		t.Errorf("MaxPerHour = %d, want 50", p.Limits.MaxPerHour)
	}
	if p.Limits.MaxPerDay != 200 || p.Limits.MinDelay != 10*time.Second {
		t.Errorf("defaults not applied: %+v", p.Limits)
	}

	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRegistryList(t *testing.T) {
	r := newTestRegistry(t, Limits{})
	seedProfile(t, r, "p1", "whatsapp", true, 0)
	seedProfile(t, r, "p2", "telegram", false, 0)
	seedProfile(t, r, "p3", "both", true, 0)

	all, err := r.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List(nil) error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List(nil) = %d profiles, want 3", len(all))
	}

	some, err := r.List(context.Background(), []string{"p3", "p1", "ghost"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(some) != 2 || some[0].ID != "p1" || some[1].ID != "p3" {
		t.Errorf("List() = %v, want [p1 p3]", some)
	}
	if some[1].Enabled != true || some[0].Supports(campaign.ChannelTelegram) {
		t.Errorf("profiles scanned wrong: %+v", some)
	}
}

package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

// SQLiteRegistry reads profiles from the console database. It shares the
// handle with the contact store.
type SQLiteRegistry struct {
	db       *sql.DB
	defaults Limits
}

// NewSQLiteRegistry creates a registry; defaults fill in zero-valued
// per-profile limits.
func NewSQLiteRegistry(db *sql.DB, defaults Limits) *SQLiteRegistry {
	return &SQLiteRegistry{db: db, defaults: defaults}
}

// Get returns one profile by id
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, channel, enabled, max_per_hour, max_per_day, min_delay_seconds, max_delay_seconds
		 FROM profiles WHERE id = ?`, id)

	p, err := r.scan(row)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profiles: get %s: %w", id, err)
	}
	return p, nil
}

// List returns the given profiles, skipping unknown ids. With no ids
// every profile is returned.
func (r *SQLiteRegistry) List(ctx context.Context, ids []string) ([]Profile, error) {
	query := `SELECT id, name, channel, enabled, max_per_hour, max_per_day, min_delay_seconds, max_delay_seconds
		FROM profiles`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
		args = make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("profiles: list: %w", err)
	}
	defer rows.Close()

	out := []Profile{}
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRegistry) scan(row scanner) (Profile, error) {
	var p Profile
	var channel string
	var enabled int
	var minDelaySec, maxDelaySec int
	if err := row.Scan(&p.ID, &p.Name, &channel, &enabled, &p.Limits.MaxPerHour, &p.Limits.MaxPerDay, &minDelaySec, &maxDelaySec); err != nil {
		return Profile{}, err
	}
	p.Enabled = enabled != 0
	p.Channels = parseChannels(channel)
	p.Limits.MinDelay = time.Duration(minDelaySec) * time.Second
	p.Limits.MaxDelay = time.Duration(maxDelaySec) * time.Second
	r.applyDefaults(&p.Limits)
	return p, nil
}

func (r *SQLiteRegistry) applyDefaults(l *Limits) {
	if l.MaxPerHour == 0 {
		l.MaxPerHour = r.defaults.MaxPerHour
	}
	if l.MaxPerDay == 0 {
		l.MaxPerDay = r.defaults.MaxPerDay
	}
	if l.MinDelay == 0 {
		l.MinDelay = r.defaults.MinDelay
	}
	if l.MaxDelay == 0 {
		l.MaxDelay = r.defaults.MaxDelay
	}
}

func parseChannels(s string) []campaign.Channel {
	switch s {
	case "whatsapp":
		return []campaign.Channel{campaign.ChannelWhatsApp}
	case "telegram":
		return []campaign.Channel{campaign.ChannelTelegram}
	case "both":
		return []campaign.Channel{campaign.ChannelWhatsApp, campaign.ChannelTelegram}
	}
	return nil
}

package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the production contact store backed by the console's
// client database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the contact database
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open contact database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the schema if it does not exist
func (s *SQLiteStore) Migrate() error {
	for _, m := range []string{migrationContacts, migrationProfiles} {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const migrationContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    phone_id TEXT NOT NULL,
    region_id TEXT,
    status TEXT DEFAULT 'active',
    whatsapp_status TEXT DEFAULT 'unknown',
    telegram_status TEXT DEFAULT 'unknown',
    campaign_count INTEGER DEFAULT 0,
    last_campaign_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_contacts_region ON contacts(region_id);
CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_contacts_last_campaign ON contacts(last_campaign_at);
`

const migrationProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    channel TEXT NOT NULL,
    enabled INTEGER DEFAULT 1,
    max_per_hour INTEGER DEFAULT 0,
    max_per_day INTEGER DEFAULT 0,
    min_delay_seconds INTEGER DEFAULT 0,
    max_delay_seconds INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// List returns contacts matching the query ordered by id
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Contact, error) {
	query := `SELECT id, phone_id, region_id, status, whatsapp_status, telegram_status, campaign_count, last_campaign_at
		FROM contacts WHERE 1=1`
	args := []any{}

	if len(q.RegionIDs) > 0 {
		query += " AND region_id IN (" + placeholders(len(q.RegionIDs)) + ")"
		for _, r := range q.RegionIDs {
			args = append(args, r)
		}
	}
	if len(q.ClientStatuses) > 0 {
		query += " AND status IN (" + placeholders(len(q.ClientStatuses)) + ")"
		for _, st := range q.ClientStatuses {
			args = append(args, st)
		}
	}

	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []Contact{}
	for rows.Next() {
		var c Contact
		var region, lastAt sql.NullString
		if err := rows.Scan(&c.ID, &c.PhoneID, &region, &c.Status, &c.WhatsAppStatus, &c.TelegramStatus, &c.CampaignCount, &lastAt); err != nil {
			return nil, err
		}
		c.RegionID = region.String
		if lastAt.Valid {
			if t, err := parseTimestamp(lastAt.String); err == nil {
				c.LastCampaignAt = &t
			}
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// MarkCampaigned bumps the contact's campaign history
func (s *SQLiteStore) MarkCampaigned(ctx context.Context, contactID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET campaign_count = campaign_count + 1, last_campaign_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), contactID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark contact campaigned: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the profile registry sharing this database
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

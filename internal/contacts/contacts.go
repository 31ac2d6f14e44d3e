// Package contacts provides read-only access to the client/contact store
// consumed by the selector, plus the campaign-history hook the engine
// invokes when an outcome lands.
package contacts

import (
	"context"
	"time"
)

// Contact is one reachable client phone with its campaign history
type Contact struct {
	ID             string     `json:"id"`
	PhoneID        string     `json:"phone_id"`
	RegionID       string     `json:"region_id"`
	Status         string     `json:"status"`
	WhatsAppStatus string     `json:"whatsapp_status"`
	TelegramStatus string     `json:"telegram_status"`
	CampaignCount  int        `json:"campaign_count"`
	LastCampaignAt *time.Time `json:"last_campaign_at,omitempty"`
}

// Query is the coarse selection pushed down to the store; the selector
// applies the finer per-channel and history predicates itself.
type Query struct {
	RegionIDs      []string // empty = all regions
	ClientStatuses []string // empty = all statuses
}

// Store is the read-only contact source plus the history write hook
type Store interface {
	// List returns contacts matching the query, in stable id order
	List(ctx context.Context, q Query) ([]Contact, error)

	// MarkCampaigned records that the contact received a campaign
	// message, keeping dedup accurate across runs
	MarkCampaigned(ctx context.Context, contactID string, at time.Time) error

	Close() error
}

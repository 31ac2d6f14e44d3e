// Package store persists engine state in BoltDB: campaign documents,
// per-campaign work queues, per-profile throttle counters and progress
// snapshots. Everything the engine needs to survive a restart lives
// here.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mtelegin/herald/internal/campaign"
	"github.com/mtelegin/herald/internal/throttle"
)

var (
	bucketCampaigns = []byte("campaigns")
	bucketQueues    = []byte("queues")
	bucketThrottle  = []byte("throttle")
	bucketSnapshots = []byte("snapshots")
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("store: not found")

// Store is the BoltDB-backed state store
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file and its buckets
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketQueues, bucketThrottle, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that share the file
func (s *Store) DB() *bolt.DB {
	return s.db
}

// SaveCampaign writes the full campaign document
func (s *Store) SaveCampaign(c *campaign.Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data)
	})
}

// GetCampaign loads one campaign by id
func (s *Store) GetCampaign(id string) (*campaign.Campaign, error) {
	var c campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCampaigns returns all stored campaigns
func (s *Store) ListCampaigns() ([]*campaign.Campaign, error) {
	var out []*campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c campaign.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal campaign %s: %w", k, err)
			}
			out = append(out, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByStatus returns campaigns in any of the given statuses
func (s *Store) ListByStatus(statuses ...campaign.Status) ([]*campaign.Campaign, error) {
	all, err := s.ListCampaigns()
	if err != nil {
		return nil, err
	}
	var out []*campaign.Campaign
	for _, c := range all {
		for _, st := range statuses {
			if c.Status == st {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// DeleteCampaign removes a campaign together with its queue and snapshot
func (s *Store) DeleteCampaign(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		if err := tx.Bucket(bucketCampaigns).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketQueues).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Delete(key)
	})
}

// PruneFinished removes campaigns that reached a terminal status before
// the cutoff, together with their queues and snapshots. Returns the
// number of campaigns removed.
func (s *Store) PruneFinished(cutoff time.Time) (int, error) {
	all, err := s.ListCampaigns()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, c := range all {
		if !c.Status.Terminal() || c.CompletedAt == nil || !c.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.DeleteCampaign(c.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// SaveQueue replaces the remaining work queue for a campaign
func (s *Store) SaveQueue(campaignID string, items []campaign.WorkItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("failed to marshal queue: %w", err)
		}
		return tx.Bucket(bucketQueues).Put([]byte(campaignID), data)
	})
}

// LoadQueue returns the remaining work queue, empty when none was saved
func (s *Store) LoadQueue(campaignID string) ([]campaign.WorkItem, error) {
	var items []campaign.WorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketQueues).Get([]byte(campaignID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &items)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteQueue drops the work queue for a campaign
func (s *Store) DeleteQueue(campaignID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueues).Delete([]byte(campaignID))
	})
}

// SaveThrottleState persists the counters for one profile
func (s *Store) SaveThrottleState(profileID string, st throttle.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal throttle state: %w", err)
		}
		return tx.Bucket(bucketThrottle).Put([]byte(profileID), data)
	})
}

// LoadThrottleState returns the saved counters for a profile, or nil
// when the profile has never sent.
func (s *Store) LoadThrottleState(profileID string) (*throttle.State, error) {
	var st *throttle.State
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketThrottle).Get([]byte(profileID))
		if data == nil {
			return nil
		}
		st = &throttle.State{}
		return json.Unmarshal(data, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SaveSnapshot persists the latest progress snapshot for a campaign
func (s *Store) SaveSnapshot(p *campaign.Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		return tx.Bucket(bucketSnapshots).Put([]byte(p.CampaignID), data)
	})
}

// LoadSnapshot returns the last saved snapshot for a campaign
func (s *Store) LoadSnapshot(campaignID string) (*campaign.Progress, error) {
	var p campaign.Progress
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(campaignID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

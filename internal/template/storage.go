package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTemplates     = []byte("templates")
	bucketTemplateNames = []byte("template_names")
)

// Storage keeps templates in the engine's BoltDB file, with a name
// index for lookups from campaign creation.
type Storage struct {
	db *bolt.DB
}

// NewStorage creates the template buckets if needed
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTemplates, bucketTemplateNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create template buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

// load reads and decodes one template record, ErrNotFound if absent.
func load(b *bolt.Bucket, key []byte) (*Template, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, ErrNotFound
	}
	var tmpl Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func save(tx *bolt.Tx, tmpl *Template) error {
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), raw); err != nil {
		return err
	}
	return tx.Bucket(bucketTemplateNames).Put([]byte(tmpl.Name), []byte(tmpl.ID))
}

// Create stores a new template under a fresh id
func (s *Storage) Create(tmpl *Template) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketTemplateNames)
		if names.Get([]byte(tmpl.Name)) != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateName, tmpl.Name)
		}

		now := time.Now().UTC()
		tmpl.ID = uuid.NewString()
		tmpl.Version = 1
		tmpl.CreatedAt = now
		tmpl.UpdatedAt = now

		return save(tx, tmpl)
	})
}

// Get retrieves a template by id
func (s *Storage) Get(id string) (*Template, error) {
	var tmpl *Template
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		tmpl, err = load(tx.Bucket(bucketTemplates), []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// GetByName retrieves a template through the name index
func (s *Storage) GetByName(name string) (*Template, error) {
	var tmpl *Template
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTemplateNames).Get([]byte(name))
		if id == nil {
			return ErrNotFound
		}
		var err error
		tmpl, err = load(tx.Bucket(bucketTemplates), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// List returns templates with optional search, offset and limit
func (s *Storage) List(filter ListFilter) ([]*Template, error) {
	search := strings.ToLower(filter.Search)
	skip := filter.Offset

	var out []*Template
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(_, raw []byte) error {
			var tmpl Template
			if err := json.Unmarshal(raw, &tmpl); err != nil {
				return err
			}
			if search != "" && !tmpl.matches(search) {
				return nil
			}
			if skip > 0 {
				skip--
				return nil
			}
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
			out = append(out, &tmpl)
			return nil
		})
	})
	return out, err
}

func (t *Template) matches(search string) bool {
	return strings.Contains(strings.ToLower(t.Name), search) ||
		strings.Contains(strings.ToLower(t.Description), search)
}

// Update replaces a template's content, bumping its version
func (s *Storage) Update(tmpl *Template) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := load(tx.Bucket(bucketTemplates), []byte(tmpl.ID))
		if err != nil {
			return err
		}

		if existing.Name != tmpl.Name {
			names := tx.Bucket(bucketTemplateNames)
			if names.Get([]byte(tmpl.Name)) != nil {
				return fmt.Errorf("%w: %q", ErrDuplicateName, tmpl.Name)
			}
			if err := names.Delete([]byte(existing.Name)); err != nil {
				return err
			}
		}

		tmpl.Version = existing.Version + 1
		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = time.Now().UTC()

		return save(tx, tmpl)
	})
}

// Delete removes a template; deleting an unknown id is not an error
func (s *Storage) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tmpl, err := load(tx.Bucket(bucketTemplates), []byte(id))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketTemplateNames).Delete([]byte(tmpl.Name)); err != nil {
			return err
		}
		return tx.Bucket(bucketTemplates).Delete([]byte(id))
	})
}

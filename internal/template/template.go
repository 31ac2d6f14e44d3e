// Package template stores reusable campaign message bodies and renders
// them with per-contact data. Bodies use Go text/template syntax; the
// console references them by name or id when creating campaigns.
package template

import (
	"errors"
	"time"
)

// ErrNotFound is returned for unknown template ids or names
var ErrNotFound = errors.New("template: not found")

// ErrDuplicateName is returned when a create or rename collides with an
// existing template name
var ErrDuplicateName = errors.New("template: name already exists")

// Template is one reusable message body
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Body        string    `json:"body"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter contains filters for listing templates
type ListFilter struct {
	Limit  int
	Offset int
	Search string
}

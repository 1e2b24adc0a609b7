// Package store persists saved maps in their extracted form.
package store

import (
	"context"
	"errors"
	"strings"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/models"
)

// DefaultListingLimit caps listing and search results when no limit is configured.
const DefaultListingLimit = 1000

var ErrNotFound = errors.New("saved map not found")

// Repository stores saved maps. Implementations never interpret layerListJSON;
// they persist whatever extracted attributes they are given.
type Repository interface {
	Put(ctx context.Context, m *models.SavedMap) error
	Get(ctx context.Context, id string) (*models.SavedMap, error)
	Delete(ctx context.Context, id string) error
	Find(ctx context.Context, opts FindOptions) (*FindResult, error)
	List(ctx context.Context, limit int) ([]*models.SavedMap, error)
}

// FindOptions selects maps for the listing view. Text matches word prefixes of
// the title and description. IncludeTags keeps maps carrying any of the given
// tag ids; ExcludeTags drops maps carrying any of them.
type FindOptions struct {
	Text        string   `json:"text,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	IncludeTags []string `json:"includeTags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`
}

type FindResult struct {
	Total int                `json:"total"`
	Maps  []*models.SavedMap `json:"maps"`
}

// normalize trims the search text and clamps Limit into (0, max].
func (o FindOptions) normalize(max int) FindOptions {
	if max <= 0 {
		max = DefaultListingLimit
	}
	o.Text = strings.TrimSpace(o.Text)
	if o.Limit <= 0 || o.Limit > max {
		o.Limit = max
	}
	return o
}

// storageError classifies a failed round trip to a backend.
func storageError(ctx context.Context, backend, operation string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewStorageTimeoutError(operation)
	}
	return apperrors.NewStorageUnavailableError(backend, err)
}

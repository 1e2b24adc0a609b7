// Package cache keeps recently loaded maps, already injected, keyed by id.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"maps-workers/internal/common/metrics"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/models"
)

// Cache stores injected maps. A miss is (nil, false, nil).
//
// Writers read Generation before reading the store and hand it to Set, which
// drops the entry if the id was invalidated in between.
type Cache interface {
	Get(ctx context.Context, id string) (*models.SavedMap, bool, error)
	Generation(ctx context.Context, id string) (uint64, error)
	Set(ctx context.Context, m *models.SavedMap, generation uint64) error
	Invalidate(ctx context.Context, ids ...string) error
}

// ErrStale is returned by Set when the entry was invalidated while it was
// being loaded. Nothing is stored.
var ErrStale = errors.New("cache entry superseded by invalidation")

// entry is the cached form of a map. Attributes stay JSON-encoded so numbers
// come back as float64, exactly as they do from the store.
type entry struct {
	ID         string                 `cbor:"id"`
	Type       string                 `cbor:"type"`
	Attributes []byte                 `cbor:"attributes"`
	References []references.Reference `cbor:"references"`
	UpdatedAt  time.Time              `cbor:"updatedAt"`
	ExpiresAt  time.Time              `cbor:"expiresAt"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(m *models.SavedMap, expiresAt time.Time) ([]byte, error) {
	attrs, err := json.Marshal(m.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes of %s: %w", m.ID, err)
	}
	return encMode.Marshal(entry{
		ID:         m.ID,
		Type:       m.Type,
		Attributes: attrs,
		References: m.References,
		UpdatedAt:  m.UpdatedAt,
		ExpiresAt:  expiresAt,
	})
}

func decode(data []byte) (*models.SavedMap, time.Time, error) {
	var e entry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode cache entry: %w", err)
	}
	m := &models.SavedMap{
		ID:         e.ID,
		Type:       e.Type,
		References: e.References,
		UpdatedAt:  e.UpdatedAt,
	}
	if err := json.Unmarshal(e.Attributes, &m.Attributes); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode attributes of %s: %w", e.ID, err)
	}
	return m, e.ExpiresAt, nil
}

func observe(tier, result string) {
	metrics.CacheLookups.WithLabelValues(tier, result).Inc()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*models.SavedMap, bool, error) { return nil, false, nil }

func (Nop) Generation(context.Context, string) (uint64, error) { return 0, nil }

func (Nop) Set(context.Context, *models.SavedMap, uint64) error { return nil }

func (Nop) Invalidate(context.Context, ...string) error { return nil }

// internal/models/map.go
package models

import (
	"time"

	"maps-workers/internal/maps/references"
)

const (
	SavedObjectTypeMap = "map"
	SavedObjectTypeTag = "tag"
)

// SavedMap is a map saved object. When persisted, Attributes are in extracted
// form: index-pattern ids live in References, not in layerListJSON.
type SavedMap struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Title returns the title attribute, or "" when it is missing.
func (m SavedMap) Title() string {
	title, _ := m.Attributes["title"].(string)
	return title
}

func (m SavedMap) Description() string {
	description, _ := m.Attributes["description"].(string)
	return description
}

// TagIDs lists the ids of tag references in order.
func (m SavedMap) TagIDs() []string {
	var ids []string
	for _, ref := range m.References {
		if ref.Type == SavedObjectTypeTag {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// MapListItem is the listing view of a map.
type MapListItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	TagIDs      []string  `json:"tagIds,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (m SavedMap) ListItem() MapListItem {
	return MapListItem{
		ID:          m.ID,
		Title:       m.Title(),
		Description: m.Description(),
		TagIDs:      m.TagIDs(),
		UpdatedAt:   m.UpdatedAt,
	}
}

// ExportDetails is the trailing line of an NDJSON export. MissingReferences
// lists maps whose layer list names a reference they do not carry.
type ExportDetails struct {
	ExportedCount     int                `json:"exportedCount"`
	MissingRefCount   int                `json:"missingRefCount"`
	MissingReferences []MissingReference `json:"missingReferences"`
}

type MissingReference struct {
	MapID string `json:"mapId"`
	Name  string `json:"name"`
}

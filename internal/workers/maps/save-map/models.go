// internal/workers/maps/save-map/models.go
package savemap

import (
	"time"

	"maps-workers/internal/maps/references"
)

// Input is the map as the client edits it. MapID is empty for a new map.
type Input struct {
	MapID      string                 `json:"mapId,omitempty"`
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references,omitempty"`
}

type Output struct {
	MapID      string                 `json:"mapId"`
	References []references.Reference `json:"references"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

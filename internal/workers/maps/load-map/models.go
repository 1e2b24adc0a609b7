// internal/workers/maps/load-map/models.go
package loadmap

import "maps-workers/internal/models"

type Input struct {
	MapID string `json:"mapId"`
}

// Output carries the map with index-pattern ids injected back into its layer
// list.
type Output struct {
	Map *models.SavedMap `json:"map"`
}

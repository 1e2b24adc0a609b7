// internal/workers/maps/find-maps/models.go
package findmaps

import "maps-workers/internal/models"

type Input struct {
	Search      string   `json:"search,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	IncludeTags []string `json:"includeTags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`
}

// Output is the listing page. Total counts every match, not just the
// returned items.
type Output struct {
	Total int                  `json:"total"`
	Maps  []models.MapListItem `json:"maps"`
}

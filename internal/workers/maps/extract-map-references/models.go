// internal/workers/maps/extract-map-references/models.go
package extractmapreferences

import "maps-workers/internal/maps/references"

// Input is a map document in client form plus the references it already has.
type Input struct {
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references,omitempty"`
}

type Output struct {
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references"`
	Extracted  int                    `json:"extractedCount"`
}

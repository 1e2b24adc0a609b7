// internal/workers/maps/inject-map-references/models.go
package injectmapreferences

import "maps-workers/internal/maps/references"

// Input is a map document in stored form with its references.
type Input struct {
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references"`
}

type Output struct {
	Attributes references.Attributes `json:"attributes"`
}

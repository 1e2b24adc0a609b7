// internal/workers/maps/export-maps/models.go
package exportmaps

import (
	"maps-workers/internal/maps/export"
	"maps-workers/internal/models"
)

type Input struct {
	// IncludeContent returns the NDJSON in the job variables even when the
	// export was uploaded.
	IncludeContent bool `json:"includeContent,omitempty"`
}

type Output struct {
	Details models.ExportDetails `json:"exportDetails"`
	Upload  *export.Upload       `json:"upload,omitempty"`
	Content string               `json:"ndjson,omitempty"`
}

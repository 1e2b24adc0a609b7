package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/maps/export"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/models"
)

// ExportResult is an NDJSON export: one stored map per line followed by a
// details line.
type ExportResult struct {
	Content []byte               `json:"-"`
	Details models.ExportDetails `json:"details"`
	Upload  *export.Upload       `json:"upload,omitempty"`
}

// Export writes every map in stored form, checks that each one still injects
// cleanly and appends the summary. The export is uploaded when a sink is
// configured.
func (s *Service) Export(ctx context.Context) (result *ExportResult, err error) {
	ctx, span := s.obs.StartSpan(ctx, "maps.Export")
	defer s.finish(ctx, span, "export", time.Now(), &err)

	maps, err := s.repo.List(ctx, s.listingLimit)
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	details := models.ExportDetails{MissingReferences: []models.MissingReference{}}
	for _, m := range maps {
		if err := enc.Encode(m); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("encode map %s: %w", m.ID, err))
		}
		details.ExportedCount++

		if _, err := references.Inject(m.Attributes, m.References); err != nil {
			var missing *references.MissingReferenceError
			if errors.As(err, &missing) {
				details.MissingReferences = append(details.MissingReferences, models.MissingReference{
					MapID: m.ID,
					Name:  missing.Name,
				})
				continue
			}
			s.logger.Warn("exported map cannot be injected", map[string]interface{}{
				"mapId": m.ID,
				"error": err,
			})
		}
	}
	details.MissingRefCount = len(details.MissingReferences)

	if err := enc.Encode(details); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("encode export details: %w", err))
	}

	result = &ExportResult{Content: buf.Bytes(), Details: details}
	span.SetAttributes(
		attribute.Int("export.count", details.ExportedCount),
		attribute.Int("export.missing_refs", details.MissingRefCount),
	)

	if s.sink != nil {
		upload, err := s.sink.Upload(ctx, result.Content)
		if err != nil {
			return nil, apperrors.NewExportUploadFailedError(err)
		}
		result.Upload = upload
	}

	s.logger.Info("maps exported", map[string]interface{}{
		"exportedCount":   details.ExportedCount,
		"missingRefCount": details.MissingRefCount,
	})
	return result, nil
}

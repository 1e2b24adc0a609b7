// Package service implements saved map operations on top of the reference
// codec: maps are extracted before they are stored and injected after they
// are read.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/common/metrics"
	"maps-workers/internal/common/observability"
	"maps-workers/internal/common/validation"
	"maps-workers/internal/maps/cache"
	"maps-workers/internal/maps/export"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/maps/store"
	"maps-workers/internal/models"
)

// Notifier publishes integrity alerts.
type Notifier interface {
	PublishJSON(ctx context.Context, subject string, payload interface{}, attrs map[string]string) (string, error)
}

// ExportSink receives finished NDJSON exports.
type ExportSink interface {
	Upload(ctx context.Context, content []byte) (*export.Upload, error)
}

type Service struct {
	repo         store.Repository
	cache        cache.Cache
	notifier     Notifier
	sink         ExportSink
	obs          *observability.Observability
	logger       logger.Logger
	listingLimit int
	now          func() time.Time
	newID        func() string
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithExportSink(sink ExportSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithObservability(obs *observability.Observability) Option {
	return func(s *Service) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithListingLimit caps Find and Export. Values <= 0 keep the default.
func WithListingLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.listingLimit = limit
		}
	}
}

func New(repo store.Repository, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		cache:        cache.Nop{},
		obs:          observability.Noop(),
		logger:       log.WithFields(map[string]interface{}{"component": "map-service"}),
		listingLimit: store.DefaultListingLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveRequest carries a map as the client sees it: layer descriptors may hold
// direct index-pattern ids. References are the caller's own references, such
// as tags; index-pattern references are regenerated.
type SaveRequest struct {
	ID         string                 `json:"id,omitempty"`
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references,omitempty"`
}

// Save validates the attributes, extracts index-pattern references and
// persists the map in extracted form.
func (s *Service) Save(ctx context.Context, req SaveRequest) (saved *models.SavedMap, err error) {
	ctx, span := s.obs.StartSpan(ctx, "maps.Save", attribute.String("map.id", req.ID))
	defer s.finish(ctx, span, "save", time.Now(), &err)

	if result := validation.ValidateMapAttributes(req.Attributes); !result.Valid {
		return nil, apperrors.NewMapValidationFailedError(strings.Join(result.GetErrorMessages(), "; "))
	}

	attrs, refs, created, err := extractForSave(req.Attributes, req.References)
	if err != nil {
		metrics.CodecFailures.WithLabelValues("extract", string(apperrors.FromError(err).Code)).Inc()
		return nil, apperrors.FromError(err)
	}

	id := req.ID
	if id == "" {
		id = s.newID()
	}

	m := &models.SavedMap{
		ID:         id,
		Type:       models.SavedObjectTypeMap,
		Attributes: attrs,
		References: refs,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.repo.Put(ctx, m); err != nil {
		return nil, apperrors.FromError(err)
	}
	metrics.ReferencesExtracted.Add(float64(created))

	s.invalidate(ctx, id)

	s.logger.Info("map saved", map[string]interface{}{
		"mapId":         id,
		"references":    len(refs),
		"newReferences": created,
	})
	return m, nil
}

// extractForSave runs Extract and keeps the caller's references in front of
// the extracted ones. A caller reference with the name of a regenerated one is
// dropped. Every reference name left in the layer list must resolve.
func extractForSave(attrs references.Attributes, existing []references.Reference) (references.Attributes, []references.Reference, int, error) {
	out, created, err := references.Extract(attrs, nil)
	if err != nil {
		return nil, nil, 0, err
	}

	regenerated := make(map[string]struct{}, len(created))
	for _, ref := range created {
		regenerated[ref.Name] = struct{}{}
	}

	refs := make([]references.Reference, 0, len(existing)+len(created))
	for _, ref := range existing {
		if _, ok := regenerated[ref.Name]; ok {
			continue
		}
		refs = append(refs, ref)
	}
	refs = append(refs, created...)

	if _, err := references.Inject(out, refs); err != nil {
		return nil, nil, 0, err
	}
	return out, refs, len(created), nil
}

// Load returns the map with index-pattern ids injected back into its layer
// list. A dangling reference raises an integrity alert and fails the load.
func (s *Service) Load(ctx context.Context, id string) (loaded *models.SavedMap, err error) {
	ctx, span := s.obs.StartSpan(ctx, "maps.Load", attribute.String("map.id", id))
	defer s.finish(ctx, span, "load", time.Now(), &err)

	if m, ok, err := s.cache.Get(ctx, id); err != nil {
		s.logger.Warn("map cache read failed", map[string]interface{}{"mapId": id, "error": err})
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return m, nil
	}

	// Read before the store so an invalidation racing this load wins.
	generation, genErr := s.cache.Generation(ctx, id)
	if genErr != nil {
		s.logger.Warn("map cache read failed", map[string]interface{}{"mapId": id, "error": genErr})
	}

	stored, err := s.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewMapNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	attrs, err := references.Inject(stored.Attributes, stored.References)
	if err != nil {
		stdErr := apperrors.FromError(err)
		metrics.CodecFailures.WithLabelValues("inject", string(stdErr.Code)).Inc()

		var missing *references.MissingReferenceError
		if errors.As(err, &missing) {
			s.alertMissingReference(ctx, stored, missing.Name)
		}
		return nil, stdErr
	}
	metrics.ReferencesInjected.Inc()

	loaded = &models.SavedMap{
		ID:         stored.ID,
		Type:       stored.Type,
		Attributes: attrs,
		References: stored.References,
		UpdatedAt:  stored.UpdatedAt,
	}
	if genErr != nil {
		return loaded, nil
	}
	switch err := s.cache.Set(ctx, loaded, generation); {
	case errors.Is(err, cache.ErrStale):
		s.logger.Debug("map changed while loading, not cached", map[string]interface{}{"mapId": id})
	case err != nil:
		s.logger.Warn("map cache write failed", map[string]interface{}{"mapId": id, "error": err})
	}
	return loaded, nil
}

func (s *Service) alertMissingReference(ctx context.Context, m *models.SavedMap, name string) {
	s.logger.Error("saved map references out of sync", map[string]interface{}{
		"mapId":         m.ID,
		"referenceName": name,
	})
	if s.notifier == nil {
		return
	}

	payload := map[string]interface{}{
		"eventType":     string(apperrors.ErrCodeMissingReference),
		"mapId":         m.ID,
		"title":         m.Title(),
		"referenceName": name,
		"detectedAt":    s.now().UTC().Format(time.RFC3339),
	}
	attrs := map[string]string{"eventType": string(apperrors.ErrCodeMissingReference)}

	if _, err := s.notifier.PublishJSON(ctx, "Map reference missing: "+m.Title(), payload, attrs); err != nil {
		s.logger.Warn("integrity alert not published", map[string]interface{}{
			"mapId": m.ID,
			"error": apperrors.NewNotificationPublishFailedError(err),
		})
	}
}

// Find lists maps in stored form. Search failures are returned, not hidden
// behind an empty result.
func (s *Service) Find(ctx context.Context, opts store.FindOptions) (result *store.FindResult, err error) {
	ctx, span := s.obs.StartSpan(ctx, "maps.Find", attribute.String("search.text", opts.Text))
	defer s.finish(ctx, span, "find", time.Now(), &err)

	if opts.Limit <= 0 || opts.Limit > s.listingLimit {
		opts.Limit = s.listingLimit
	}
	result, err = s.repo.Find(ctx, opts)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	return result, nil
}

// Delete removes every id it can and reports the ones it removed. Failures
// for individual ids are joined into the returned error.
func (s *Service) Delete(ctx context.Context, ids ...string) (deleted []string, err error) {
	ctx, span := s.obs.StartSpan(ctx, "maps.Delete", attribute.Int("map.count", len(ids)))
	defer s.finish(ctx, span, "delete", time.Now(), &err)

	var errs []error
	for _, id := range ids {
		switch err := s.repo.Delete(ctx, id); {
		case err == nil:
			deleted = append(deleted, id)
		case errors.Is(err, store.ErrNotFound):
			errs = append(errs, apperrors.NewMapNotFoundError(id))
		default:
			errs = append(errs, apperrors.FromError(err))
		}
	}

	s.invalidate(ctx, ids...)
	return deleted, errors.Join(errs...)
}

func (s *Service) invalidate(ctx context.Context, ids ...string) {
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("map cache invalidation failed", map[string]interface{}{
			"mapIds": ids,
			"error":  apperrors.NewCacheUnavailableError(err),
		})
	}
}

// finish ends span and records the outcome of an operation.
func (s *Service) finish(ctx context.Context, span trace.Span, operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = string(apperrors.FromError(*err).Code)
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	s.obs.RecordOperation(ctx, operation, status, time.Since(start))
	span.End()
}

package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/cache"
	"maps-workers/internal/maps/export"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/maps/store"
	"maps-workers/internal/models"
)

// ==========================
// Test doubles
// ==========================

type memRepo struct {
	mu       sync.Mutex
	maps     map[string]*models.SavedMap
	gets     int
	puts     int
	putErr   error
	findErr  error
	lastFind store.FindOptions
	afterGet func()
}

func newMemRepo() *memRepo {
	return &memRepo{maps: map[string]*models.SavedMap{}}
}

func copyMap(m *models.SavedMap) *models.SavedMap {
	c := *m
	c.Attributes = references.Attributes{}
	for k, v := range m.Attributes {
		c.Attributes[k] = v
	}
	c.References = append([]references.Reference(nil), m.References...)
	return &c
}

func (r *memRepo) Put(_ context.Context, m *models.SavedMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	if r.putErr != nil {
		return r.putErr
	}
	r.maps[m.ID] = copyMap(m)
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*models.SavedMap, error) {
	r.mu.Lock()
	r.gets++
	m, ok := r.maps[id]
	if ok {
		m = copyMap(m)
	}
	hook := r.afterGet
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.maps[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.maps, id)
	return nil
}

func (r *memRepo) Find(_ context.Context, opts store.FindOptions) (*store.FindResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFind = opts
	if r.findErr != nil {
		return nil, r.findErr
	}
	ids := make([]string, 0, len(r.maps))
	for id := range r.maps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := &store.FindResult{Total: len(ids), Maps: []*models.SavedMap{}}
	for _, id := range ids {
		if opts.Limit > 0 && len(result.Maps) == opts.Limit {
			break
		}
		result.Maps = append(result.Maps, copyMap(r.maps[id]))
	}
	return result, nil
}

func (r *memRepo) List(ctx context.Context, limit int) ([]*models.SavedMap, error) {
	result, err := r.Find(ctx, store.FindOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	return result.Maps, nil
}

type published struct {
	subject string
	payload map[string]interface{}
	attrs   map[string]string
}

type fakeNotifier struct {
	messages []published
	err      error
}

func (n *fakeNotifier) PublishJSON(_ context.Context, subject string, payload interface{}, attrs map[string]string) (string, error) {
	n.messages = append(n.messages, published{subject: subject, payload: payload.(map[string]interface{}), attrs: attrs})
	return "msg-1", n.err
}

type fakeSink struct {
	content []byte
	err     error
}

func (s *fakeSink) Upload(_ context.Context, content []byte) (*export.Upload, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.content = content
	return &export.Upload{Bucket: "map-exports", Key: "exports/x.ndjson", Size: int64(len(content))}, nil
}

// ==========================
// Helpers
// ==========================

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo store.Repository, opts ...Option) *Service {
	s := New(repo, logger.NewTestLogger(t), opts...)
	s.now = func() time.Time { return fixedNow }
	s.newID = func() string { return "map-new" }
	return s
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.FromError(err).Code, "error: %v", err)
}

const clientLayerList = `[{"id":"l1","sourceDescriptor":{"type":"ES_SEARCH","indexPatternId":"ip-1"},"joins":[{"right":{"indexPatternId":"ip-2","term":"iso2"}}]}]`

func clientMap() references.Attributes {
	return references.Attributes{
		"title":         "World countries",
		"description":   "choropleth",
		"layerListJSON": clientLayerList,
		"mapStateJSON":  `{"zoom":2}`,
	}
}

var tagRef = references.Reference{Name: "tag-ref-eu", Type: models.SavedObjectTypeTag, ID: "tag-eu"}

// storedMap puts a map directly into repo in extracted form.
func storedMap(t *testing.T, repo *memRepo, id string, layerList string, refs ...references.Reference) {
	t.Helper()
	require.NoError(t, repo.Put(context.Background(), &models.SavedMap{
		ID:         id,
		Type:       models.SavedObjectTypeMap,
		Attributes: references.Attributes{"title": "Map " + id, "layerListJSON": layerList},
		References: refs,
		UpdatedAt:  fixedNow,
	}))
}

// ==========================
// Save
// ==========================

func TestService_Save(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(t, repo)

	saved, err := s.Save(context.Background(), SaveRequest{
		Attributes: clientMap(),
		References: []references.Reference{tagRef},
	})
	require.NoError(t, err)

	assert.Equal(t, "map-new", saved.ID)
	assert.Equal(t, models.SavedObjectTypeMap, saved.Type)
	assert.Equal(t, fixedNow, saved.UpdatedAt)
	assert.Equal(t, []references.Reference{
		tagRef,
		{Name: "layer_0_source_index_pattern", Type: references.IndexPatternType, ID: "ip-1"},
		{Name: "layer_0_join_0_index_pattern", Type: references.IndexPatternType, ID: "ip-2"},
	}, saved.References)

	layerList := saved.Attributes["layerListJSON"].(string)
	assert.NotContains(t, layerList, "ip-1")
	assert.NotContains(t, layerList, "ip-2")
	assert.Contains(t, layerList, `"indexPatternRefName":"layer_0_source_index_pattern"`)
	assert.Contains(t, layerList, `"indexPatternRefName":"layer_0_join_0_index_pattern"`)
	assert.Equal(t, "choropleth", saved.Attributes["description"])

	stored, err := repo.Get(context.Background(), "map-new")
	require.NoError(t, err)
	assert.Equal(t, saved.References, stored.References)
}

func TestService_Save_KeepsID(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(t, repo)

	saved, err := s.Save(context.Background(), SaveRequest{ID: "existing", Attributes: clientMap()})
	require.NoError(t, err)
	assert.Equal(t, "existing", saved.ID)
}

func TestService_Save_ReplacesRegeneratedReferences(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(t, repo)

	stale := references.Reference{Name: "layer_0_source_index_pattern", Type: references.IndexPatternType, ID: "ip-old"}
	saved, err := s.Save(context.Background(), SaveRequest{
		ID:         "m",
		Attributes: clientMap(),
		References: []references.Reference{stale, tagRef},
	})
	require.NoError(t, err)

	assert.Equal(t, tagRef, saved.References[0])
	assert.Len(t, saved.References, 3)
	for _, ref := range saved.References {
		assert.NotEqual(t, "ip-old", ref.ID)
	}
}

func TestService_Save_Errors(t *testing.T) {
	tests := []struct {
		name  string
		req   SaveRequest
		code  apperrors.ErrorCode
		setup func(repo *memRepo)
	}{
		{
			name: "missing title",
			req:  SaveRequest{Attributes: references.Attributes{"layerListJSON": "[]"}},
			code: apperrors.ErrCodeMapValidationFailed,
		},
		{
			name: "layer list is not json",
			req:  SaveRequest{Attributes: references.Attributes{"title": "t", "layerListJSON": "[{"}},
			code: apperrors.ErrCodeMalformedDocument,
		},
		{
			name: "map state is not json",
			req: SaveRequest{Attributes: references.Attributes{
				"title":         "t",
				"layerListJSON": "[]",
				"mapStateJSON":  "{oops",
			}},
			code: apperrors.ErrCodeMalformedDocument,
		},
		{
			name: "layer names a reference the request does not carry",
			req: SaveRequest{Attributes: references.Attributes{
				"title":         "t",
				"layerListJSON": `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`,
			}},
			code: apperrors.ErrCodeMissingReference,
		},
		{
			name:  "store rejects write",
			req:   SaveRequest{Attributes: clientMap()},
			code:  apperrors.ErrCodeStorageUnavailable,
			setup: func(repo *memRepo) { repo.putErr = apperrors.NewStorageUnavailableError("postgres", errors.New("down")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			if tt.setup != nil {
				tt.setup(repo)
			}
			s := newTestService(t, repo)

			_, err := s.Save(context.Background(), tt.req)
			requireCode(t, err, tt.code)
			if tt.setup == nil {
				assert.Zero(t, repo.puts)
			}
		})
	}
}

func TestService_Save_AlreadyExtractedLayerKeepsReference(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(t, repo)

	ref := references.Reference{Name: "custom_ref", Type: references.IndexPatternType, ID: "ip-9"}
	saved, err := s.Save(context.Background(), SaveRequest{
		Attributes: references.Attributes{
			"title":         "t",
			"layerListJSON": `[{"sourceDescriptor":{"indexPatternRefName":"custom_ref"}}]`,
		},
		References: []references.Reference{ref},
	})
	require.NoError(t, err)
	assert.Equal(t, []references.Reference{ref}, saved.References)
}

// ==========================
// Load
// ==========================

func TestService_SaveThenLoad(t *testing.T) {
	repo := newMemRepo()
	local, err := cache.NewLocalCache(16, time.Minute)
	require.NoError(t, err)
	s := newTestService(t, repo, WithCache(local))

	_, err = s.Save(context.Background(), SaveRequest{ID: "m", Attributes: clientMap(), References: []references.Reference{tagRef}})
	require.NoError(t, err)

	loaded, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.JSONEq(t, clientLayerList, loaded.Attributes["layerListJSON"].(string))
	assert.Equal(t, `{"zoom":2}`, loaded.Attributes["mapStateJSON"])
	assert.Equal(t, 1, repo.gets)

	again, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets, "second load is served from cache")
	assert.Equal(t, loaded.Attributes, again.Attributes)

	// A save invalidates the cached copy.
	attrs := clientMap()
	attrs["title"] = "Renamed"
	_, err = s.Save(context.Background(), SaveRequest{ID: "m", Attributes: attrs})
	require.NoError(t, err)

	renamed, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title())
	assert.Equal(t, 2, repo.gets)
}

func TestService_Load_SaveDuringLoadIsNotCached(t *testing.T) {
	repo := newMemRepo()
	local, err := cache.NewLocalCache(16, time.Minute)
	require.NoError(t, err)
	s := newTestService(t, repo, WithCache(local))

	_, err = s.Save(context.Background(), SaveRequest{ID: "m", Attributes: clientMap()})
	require.NoError(t, err)

	// The save lands after the load has read the old version.
	repo.afterGet = func() {
		repo.afterGet = nil
		attrs := clientMap()
		attrs["title"] = "Renamed"
		_, err := s.Save(context.Background(), SaveRequest{ID: "m", Attributes: attrs})
		require.NoError(t, err)
	}

	old, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "World countries", old.Title())
	assert.Equal(t, 0, local.Len())

	current, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", current.Title())
}

func TestService_Load_NotFound(t *testing.T) {
	s := newTestService(t, newMemRepo())

	_, err := s.Load(context.Background(), "nope")
	requireCode(t, err, apperrors.ErrCodeMapNotFound)
}

func TestService_Load_MissingReference(t *testing.T) {
	repo := newMemRepo()
	storedMap(t, repo, "broken", `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`, tagRef)

	notifier := &fakeNotifier{}
	s := newTestService(t, repo, WithNotifier(notifier))

	_, err := s.Load(context.Background(), "broken")
	requireCode(t, err, apperrors.ErrCodeMissingReference)
	assert.ErrorIs(t, err, references.ErrMissingReference)

	require.Len(t, notifier.messages, 1)
	msg := notifier.messages[0]
	assert.Equal(t, "broken", msg.payload["mapId"])
	assert.Equal(t, "layer_0_source_index_pattern", msg.payload["referenceName"])
	assert.Equal(t, "MISSING_REFERENCE", msg.attrs["eventType"])
	assert.Contains(t, msg.subject, "Map broken")
}

func TestService_Load_MissingReference_AlertFailure(t *testing.T) {
	repo := newMemRepo()
	storedMap(t, repo, "broken", `[{"sourceDescriptor":{"indexPatternRefName":"gone"}}]`)

	s := newTestService(t, repo, WithNotifier(&fakeNotifier{err: errors.New("throttled")}))

	_, err := s.Load(context.Background(), "broken")
	requireCode(t, err, apperrors.ErrCodeMissingReference)
}

type failingCache struct{ cache.Nop }

func (failingCache) Get(context.Context, string) (*models.SavedMap, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, *models.SavedMap, uint64) error { return errors.New("cache down") }

func (failingCache) Invalidate(context.Context, ...string) error { return errors.New("cache down") }

func TestService_CacheFailuresDoNotFailCalls(t *testing.T) {
	repo := newMemRepo()
	s := newTestService(t, repo, WithCache(failingCache{}))

	_, err := s.Save(context.Background(), SaveRequest{ID: "m", Attributes: clientMap()})
	require.NoError(t, err)

	loaded, err := s.Load(context.Background(), "m")
	require.NoError(t, err)
	assert.JSONEq(t, clientLayerList, loaded.Attributes["layerListJSON"].(string))

	deleted, err := s.Delete(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, deleted)
}

// ==========================
// Find / Delete
// ==========================

func TestService_Find(t *testing.T) {
	repo := newMemRepo()
	for _, id := range []string{"a", "b", "c"} {
		storedMap(t, repo, id, "[]")
	}
	s := newTestService(t, repo, WithListingLimit(2))

	result, err := s.Find(context.Background(), store.FindOptions{Text: "map", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lastFind.Limit)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Maps, 2)

	repo.findErr = apperrors.NewStorageQueryFailedError("search", errors.New("parse exception"))
	_, err = s.Find(context.Background(), store.FindOptions{Text: "map"})
	requireCode(t, err, apperrors.ErrCodeStorageQueryFailed)
}

func TestService_Delete(t *testing.T) {
	repo := newMemRepo()
	storedMap(t, repo, "a", "[]")
	storedMap(t, repo, "b", "[]")

	local, err := cache.NewLocalCache(16, time.Minute)
	require.NoError(t, err)
	s := newTestService(t, repo, WithCache(local))

	_, err = s.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, local.Len())

	deleted, err := s.Delete(context.Background(), "a", "missing", "b")
	assert.Equal(t, []string{"a", "b"}, deleted)
	requireCode(t, err, apperrors.ErrCodeMapNotFound)
	assert.Contains(t, err.Error(), "MAP_NOT_FOUND")
	assert.Empty(t, repo.maps)
	assert.Equal(t, 0, local.Len())
}

// ==========================
// Export
// ==========================

func TestService_Export(t *testing.T) {
	repo := newMemRepo()
	storedMap(t, repo, "a", `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`,
		references.Reference{Name: "layer_0_source_index_pattern", Type: references.IndexPatternType, ID: "ip-1"})
	storedMap(t, repo, "b", `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`)
	storedMap(t, repo, "c", `<not json>`)

	sink := &fakeSink{}
	s := newTestService(t, repo, WithExportSink(sink))

	result, err := s.Export(context.Background())
	require.NoError(t, err)

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(result.Content))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 4)

	var first models.SavedMap
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	assert.Contains(t, first.Attributes["layerListJSON"], "indexPatternRefName")

	assert.Contains(t, lines[2], `<not json>`, "html is not escaped")

	var details models.ExportDetails
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &details))
	assert.Equal(t, 3, details.ExportedCount)
	assert.Equal(t, 1, details.MissingRefCount)
	assert.Equal(t, []models.MissingReference{{MapID: "b", Name: "layer_0_source_index_pattern"}}, details.MissingReferences)
	assert.Equal(t, details, result.Details)

	assert.Equal(t, result.Content, sink.content)
	require.NotNil(t, result.Upload)
	assert.Equal(t, "exports/x.ndjson", result.Upload.Key)
}

func TestService_Export_Empty(t *testing.T) {
	s := newTestService(t, newMemRepo())

	result, err := s.Export(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"exportedCount":0,"missingRefCount":0,"missingReferences":[]}`, string(result.Content))
	assert.Nil(t, result.Upload)
}

func TestService_Export_UploadFailure(t *testing.T) {
	repo := newMemRepo()
	storedMap(t, repo, "a", "[]")
	s := newTestService(t, repo, WithExportSink(&fakeSink{err: errors.New("bucket gone")}))

	_, err := s.Export(context.Background())
	requireCode(t, err, apperrors.ErrCodeExportUploadFailed)
}

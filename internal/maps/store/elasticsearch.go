package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "maps-workers/internal/common/errors"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/models"
)

const backendElasticsearch = "elasticsearch"

const indexMapping = `{
	"mappings": {
		"properties": {
			"type":        {"type": "keyword"},
			"title":       {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
			"description": {"type": "text"},
			"tag_ids":     {"type": "keyword"},
			"attributes":  {"type": "object", "enabled": false},
			"references":  {"type": "object", "enabled": false},
			"updated_at":  {"type": "date"}
		}
	}
}`

// esDocument is the _source of a saved map. Title, description and tag ids are
// copied out of the attributes so they can be searched.
type esDocument struct {
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	TagIDs      []string               `json:"tag_ids,omitempty"`
	Attributes  references.Attributes  `json:"attributes"`
	References  []references.Reference `json:"references"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

type esHit struct {
	ID     string     `json:"_id"`
	Source esDocument `json:"_source"`
}

func (h esHit) savedMap() *models.SavedMap {
	return &models.SavedMap{
		ID:         h.ID,
		Type:       h.Source.Type,
		Attributes: h.Source.Attributes,
		References: h.Source.References,
		UpdatedAt:  h.Source.UpdatedAt,
	}
}

type ElasticsearchStore struct {
	client       *elasticsearch.Client
	index        string
	listingLimit int
}

func NewElasticsearchStore(client *elasticsearch.Client, index string, listingLimit int) *ElasticsearchStore {
	return &ElasticsearchStore{
		client:       client,
		index:        index,
		listingLimit: listingLimit,
	}
}

// EnsureIndex creates the index with the saved map mapping if it is missing.
func (s *ElasticsearchStore) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return storageError(ctx, backendElasticsearch, "indices.exists", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return apperrors.NewStorageQueryFailedError("indices.exists", fmt.Errorf("status %s", res.Status()))
	}

	res, err = esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, s.client)
	if err != nil {
		return storageError(ctx, backendElasticsearch, "indices.create", err)
	}
	defer res.Body.Close()

	// Another worker may have created it first.
	if res.IsError() && !strings.Contains(readBody(res), "resource_already_exists_exception") {
		return apperrors.NewStorageQueryFailedError("indices.create", fmt.Errorf("status %s", res.Status()))
	}
	return nil
}

func (s *ElasticsearchStore) Put(ctx context.Context, m *models.SavedMap) error {
	body, err := json.Marshal(esDocument{
		Type:        m.Type,
		Title:       m.Title(),
		Description: m.Description(),
		TagIDs:      m.TagIDs(),
		Attributes:  m.Attributes,
		References:  m.References,
		UpdatedAt:   m.UpdatedAt,
	})
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("encode saved map %s: %w", m.ID, err))
	}

	res, err := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: m.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}.Do(ctx, s.client)
	if err != nil {
		return storageError(ctx, backendElasticsearch, "index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewStorageQueryFailedError("index", fmt.Errorf("%s", readBody(res)))
	}
	return nil
}

func (s *ElasticsearchStore) Get(ctx context.Context, id string) (*models.SavedMap, error) {
	res, err := esapi.GetRequest{Index: s.index, DocumentID: id}.Do(ctx, s.client)
	if err != nil {
		return nil, storageError(ctx, backendElasticsearch, "get", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, apperrors.NewStorageQueryFailedError("get", fmt.Errorf("%s", readBody(res)))
	}

	var hit esHit
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, apperrors.NewStorageQueryFailedError("get", fmt.Errorf("decode response: %w", err))
	}
	return hit.savedMap(), nil
}

func (s *ElasticsearchStore) Delete(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: id,
		Refresh:    "wait_for",
	}.Do(ctx, s.client)
	if err != nil {
		return storageError(ctx, backendElasticsearch, "delete", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		return apperrors.NewStorageQueryFailedError("delete", fmt.Errorf("%s", readBody(res)))
	}
	return nil
}

func (s *ElasticsearchStore) Find(ctx context.Context, opts FindOptions) (*FindResult, error) {
	opts = opts.normalize(s.listingLimit)

	body, err := json.Marshal(buildFindQuery(opts))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	size := opts.Limit
	res, err := esapi.SearchRequest{
		Index:          []string{s.index},
		Body:           bytes.NewReader(body),
		Size:           &size,
		TrackTotalHits: true,
	}.Do(ctx, s.client)
	if err != nil {
		return nil, storageError(ctx, backendElasticsearch, "search", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewStorageQueryFailedError("search", fmt.Errorf("%s", readBody(res)))
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []esHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewStorageQueryFailedError("search", fmt.Errorf("decode response: %w", err))
	}

	result := &FindResult{
		Total: r.Hits.Total.Value,
		Maps:  make([]*models.SavedMap, 0, len(r.Hits.Hits)),
	}
	for _, hit := range r.Hits.Hits {
		result.Maps = append(result.Maps, hit.savedMap())
	}
	return result, nil
}

func (s *ElasticsearchStore) List(ctx context.Context, limit int) ([]*models.SavedMap, error) {
	result, err := s.Find(ctx, FindOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	return result.Maps, nil
}

// buildFindQuery matches the search text as a literal phrase whose last word
// may be a prefix, the same way the Postgres store does.
func buildFindQuery(opts FindOptions) map[string]interface{} {
	boolQuery := map[string]interface{}{
		"filter": []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"type": models.SavedObjectTypeMap}},
		},
	}

	if opts.Text != "" {
		boolQuery["must"] = []interface{}{
			map[string]interface{}{
				"multi_match": map[string]interface{}{
					"query":  opts.Text,
					"type":   "phrase_prefix",
					"fields": []string{"title^3", "description"},
				},
			},
		}
	}

	if len(opts.IncludeTags) > 0 {
		boolQuery["filter"] = append(boolQuery["filter"].([]interface{}),
			map[string]interface{}{"terms": map[string]interface{}{"tag_ids": opts.IncludeTags}},
		)
	}

	if len(opts.ExcludeTags) > 0 {
		boolQuery["must_not"] = []interface{}{
			map[string]interface{}{"terms": map[string]interface{}{"tag_ids": opts.ExcludeTags}},
		}
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}
	if opts.Text == "" {
		query["sort"] = []interface{}{
			map[string]interface{}{"updated_at": map[string]interface{}{"order": "desc"}},
		}
	}
	return query
}

func readBody(res *esapi.Response) string {
	b, err := io.ReadAll(res.Body)
	if err != nil || len(b) == 0 {
		return res.Status()
	}
	return res.Status() + " " + string(b)
}

package loadmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maps-workers/internal/common/errors"
	"maps-workers/internal/common/logger"
	"maps-workers/internal/maps/references"
	"maps-workers/internal/models"
)

type fakeLoader struct {
	maps map[string]*models.SavedMap
	err  error
}

func (f *fakeLoader) Load(ctx context.Context, id string) (*models.SavedMap, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.maps[id]
	if !ok {
		return nil, errors.NewMapNotFoundError(id)
	}
	return m, nil
}

func TestHandler_Execute(t *testing.T) {
	loader := &fakeLoader{maps: map[string]*models.SavedMap{
		"map-1": {
			ID:         "map-1",
			Type:       models.SavedObjectTypeMap,
			Attributes: references.Attributes{"title": "Roads"},
		},
	}}
	h := NewHandler(&Config{}, loader, logger.NewTestLogger(t))

	tests := []struct {
		name    string
		mapID   string
		code    errors.ErrorCode
		wantMap bool
	}{
		{name: "found", mapID: "map-1", wantMap: true},
		{name: "surrounding whitespace", mapID: "  map-1 ", wantMap: true},
		{name: "unknown id", mapID: "map-2", code: errors.ErrCodeMapNotFound},
		{name: "empty id", mapID: " ", code: errors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := h.Execute(context.Background(), &Input{MapID: tt.mapID})
			if tt.wantMap {
				require.NoError(t, err)
				assert.Equal(t, "Roads", output.Map.Title())
				return
			}
			var stdErr *errors.StandardError
			require.ErrorAs(t, err, &stdErr)
			assert.Equal(t, tt.code, stdErr.Code)
		})
	}
}

func TestHandler_Execute_MissingReference(t *testing.T) {
	loader := &fakeLoader{err: errors.NewMissingReferenceError("layer_0_source_index_pattern", nil)}
	h := NewHandler(&Config{}, loader, logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{MapID: "map-1"})
	var stdErr *errors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, errors.ErrCodeMissingReference, stdErr.Code)
	assert.Equal(t, "layer_0_source_index_pattern", stdErr.Metadata["referenceName"])
}

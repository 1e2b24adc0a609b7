package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
)

func TestDefault(t *testing.T) {
	reg := Default()

	assert.Equal(t, []string{
		"extract-map-references",
		"inject-map-references",
		"save-map",
		"load-map",
		"find-maps",
		"delete-maps",
		"export-maps",
	}, reg.TaskTypes())

	ids := map[string]bool{}
	for _, a := range reg.Activities {
		assert.False(t, ids[a.ID], "duplicate id %s", a.ID)
		ids[a.ID] = true
		assert.NotEmpty(t, a.ErrorCodes, a.TaskType)

		for _, schema := range []map[string]interface{}{a.InputSchema, a.OutputSchema} {
			_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
			assert.NoError(t, err, a.TaskType)
		}
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	tests := []struct {
		name   string
		mutate func(r *ActivityRegistry)
		want   string
	}{
		{"empty", func(r *ActivityRegistry) { r.Activities = nil }, "no activities"},
		{"duplicate id", func(r *ActivityRegistry) { r.Activities[1].ID = r.Activities[0].ID }, "duplicate activity ID"},
		{"duplicate task type", func(r *ActivityRegistry) { r.Activities[1].TaskType = r.Activities[0].TaskType }, "duplicate task type"},
		{"missing display name", func(r *ActivityRegistry) { r.Activities[2].DisplayName = "" }, "DisplayName"},
		{"missing category", func(r *ActivityRegistry) { r.Activities[3].Category = "" }, "Category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := Default()
			tt.mutate(reg)
			err := reg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefault_InputSchemas(t *testing.T) {
	reg := Default()
	save, ok := reg.Lookup("save-map")
	require.True(t, ok)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(save.InputSchema))
	require.NoError(t, err)

	valid, err := schema.Validate(gojsonschema.NewStringLoader(
		`{"attributes":{"title":"Roads"},"references":[{"name":"tag-ref-0","type":"tag","id":"t1"}]}`))
	require.NoError(t, err)
	assert.True(t, valid.Valid())

	invalid, err := schema.Validate(gojsonschema.NewStringLoader(`{"references":[{"name":"x"}]}`))
	require.NoError(t, err)
	assert.False(t, invalid.Valid())

	_, ok = reg.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	data, err := json.Marshal(Default())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, Version, reg.Version)
	assert.Len(t, reg.Activities, 7)

	require.NoError(t, os.WriteFile(path, []byte(`{"activities":`), 0o644))
	_, err = LoadRegistry(path)
	assert.Error(t, err)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

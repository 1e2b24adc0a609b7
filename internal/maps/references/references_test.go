package references

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const joinedLayerList = `[
	{
		"id": "layer-a",
		"type": "GEOJSON_VECTOR",
		"sourceDescriptor": {"type": "ES_SEARCH", "indexPatternId": "idx-1", "geoField": "location"},
		"joins": [
			{"leftField": "iso2", "right": {"type": "ES_TERM_SOURCE", "indexPatternId": "idx-2", "term": "country"}},
			{"leftField": "name", "right": {"type": "TABLE_SOURCE"}},
			{"leftField": "code", "right": {"type": "ES_TERM_SOURCE", "indexPatternId": "idx-3", "term": "code"}}
		]
	},
	{
		"id": "layer-b",
		"type": "EMS_VECTOR_TILE",
		"sourceDescriptor": {"type": "EMS_TMS", "isAutoSelect": true}
	},
	{
		"id": "layer-c",
		"type": "HEATMAP",
		"sourceDescriptor": {"type": "ES_GEO_GRID", "indexPatternId": "idx-1"},
		"joins": []
	}
]`

func TestExtract_SingleLayer(t *testing.T) {
	attrs := Attributes{
		"title":         "single",
		"layerListJSON": `[{"sourceDescriptor":{"indexPatternId":"idx-1"}}]`,
	}

	out, refs, err := Extract(attrs, nil)
	require.NoError(t, err)

	assert.JSONEq(t,
		`[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`,
		out["layerListJSON"].(string))
	assert.Equal(t, []Reference{
		{Name: "layer_0_source_index_pattern", Type: "index-pattern", ID: "idx-1"},
	}, refs)
	assert.Equal(t, "single", out["title"])
}

func TestExtract_SourcesAndJoins(t *testing.T) {
	out, refs, err := Extract(Attributes{"layerListJSON": joinedLayerList}, nil)
	require.NoError(t, err)

	assert.Equal(t, []Reference{
		{Name: "layer_0_source_index_pattern", Type: IndexPatternType, ID: "idx-1"},
		{Name: "layer_0_join_0_index_pattern", Type: IndexPatternType, ID: "idx-2"},
		{Name: "layer_0_join_2_index_pattern", Type: IndexPatternType, ID: "idx-3"},
		{Name: "layer_2_source_index_pattern", Type: IndexPatternType, ID: "idx-1"},
	}, refs)

	assert.JSONEq(t, `[
		{
			"id": "layer-a",
			"type": "GEOJSON_VECTOR",
			"sourceDescriptor": {"type": "ES_SEARCH", "indexPatternRefName": "layer_0_source_index_pattern", "geoField": "location"},
			"joins": [
				{"leftField": "iso2", "right": {"type": "ES_TERM_SOURCE", "indexPatternRefName": "layer_0_join_0_index_pattern", "term": "country"}},
				{"leftField": "name", "right": {"type": "TABLE_SOURCE"}},
				{"leftField": "code", "right": {"type": "ES_TERM_SOURCE", "indexPatternRefName": "layer_0_join_2_index_pattern", "term": "code"}}
			]
		},
		{
			"id": "layer-b",
			"type": "EMS_VECTOR_TILE",
			"sourceDescriptor": {"type": "EMS_TMS", "isAutoSelect": true}
		},
		{
			"id": "layer-c",
			"type": "HEATMAP",
			"sourceDescriptor": {"type": "ES_GEO_GRID", "indexPatternRefName": "layer_2_source_index_pattern"},
			"joins": []
		}
	]`, out["layerListJSON"].(string))
}

func TestExtract_AdHocDataViewsStayInline(t *testing.T) {
	attrs := Attributes{
		"layerListJSON": `[
			{"sourceDescriptor": {"indexPatternId": "adhoc-1"}},
			{"sourceDescriptor": {"indexPatternId": "saved-1"},
			 "joins": [{"right": {"indexPatternId": "adhoc-1"}}]}
		]`,
		"mapStateJSON": `{"zoom": 3, "adHocDataViews": [{"id": "adhoc-1", "title": "logs-*"}, {"title": "no id"}]}`,
	}

	out, refs, err := Extract(attrs, nil)
	require.NoError(t, err)

	assert.Equal(t, []Reference{
		{Name: "layer_1_source_index_pattern", Type: IndexPatternType, ID: "saved-1"},
	}, refs)
	assert.JSONEq(t, `[
		{"sourceDescriptor": {"indexPatternId": "adhoc-1"}},
		{"sourceDescriptor": {"indexPatternRefName": "layer_1_source_index_pattern"},
		 "joins": [{"right": {"indexPatternId": "adhoc-1"}}]}
	]`, out["layerListJSON"].(string))
	assert.Equal(t, attrs["mapStateJSON"], out["mapStateJSON"])
}

func TestExtract_ExistingReferencesArePrefix(t *testing.T) {
	existing := []Reference{
		{Name: "tag-ref-0", Type: "tag", ID: "tag-1"},
		{Name: "layer_0_source_index_pattern", Type: IndexPatternType, ID: "idx-1"},
	}
	snapshot := append([]Reference(nil), existing...)

	_, refs, err := Extract(Attributes{"layerListJSON": joinedLayerList}, existing)
	require.NoError(t, err)

	require.Len(t, refs, len(existing)+4)
	assert.Equal(t, existing, refs[:len(existing)])
	assert.Equal(t, "layer_0_source_index_pattern", refs[len(existing)].Name)
	assert.Equal(t, snapshot, existing, "existing references must not be modified")
}

func TestExtract_DeterministicNaming(t *testing.T) {
	attrs := Attributes{"layerListJSON": joinedLayerList}

	first, firstRefs, err := Extract(attrs, nil)
	require.NoError(t, err)
	second, secondRefs, err := Extract(attrs, nil)
	require.NoError(t, err)

	assert.Equal(t, firstRefs, secondRefs)
	assert.Equal(t, first["layerListJSON"], second["layerListJSON"])
}

func TestExtract_DoesNotMutateInput(t *testing.T) {
	attrs := Attributes{
		"title":         "keep me",
		"layerListJSON": joinedLayerList,
	}

	_, _, err := Extract(attrs, nil)
	require.NoError(t, err)

	assert.Equal(t, joinedLayerList, attrs["layerListJSON"])
	assert.Equal(t, "keep me", attrs["title"])
}

func TestExtract_AlreadyExtractedDescriptorIsKept(t *testing.T) {
	attrs := Attributes{
		"layerListJSON": `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`,
	}

	out, refs, err := Extract(attrs, nil)
	require.NoError(t, err)

	assert.Empty(t, refs)
	assert.JSONEq(t, attrs["layerListJSON"].(string), out["layerListJSON"].(string))
}

func TestExtract_NoLayerList(t *testing.T) {
	existing := []Reference{{Name: "tag-ref-0", Type: "tag", ID: "tag-1"}}

	tests := []struct {
		name  string
		attrs Attributes
	}{
		{name: "missing field", attrs: Attributes{"title": "empty"}},
		{name: "empty string", attrs: Attributes{"title": "empty", "layerListJSON": ""}},
		{name: "null", attrs: Attributes{"title": "empty", "layerListJSON": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, refs, err := Extract(tt.attrs, existing)
			require.NoError(t, err)
			assert.Equal(t, tt.attrs, out)
			assert.Equal(t, existing, refs)
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name          string
		attrs         Attributes
		expectedField string
	}{
		{
			name:          "invalid layer list",
			attrs:         Attributes{"layerListJSON": "{not valid json"},
			expectedField: FieldLayerList,
		},
		{
			name:          "layer list is not a list",
			attrs:         Attributes{"layerListJSON": `{"id": "layer"}`},
			expectedField: FieldLayerList,
		},
		{
			name:          "layer list is null",
			attrs:         Attributes{"layerListJSON": "null"},
			expectedField: FieldLayerList,
		},
		{
			name:          "layer list is not a string",
			attrs:         Attributes{"layerListJSON": 42},
			expectedField: FieldLayerList,
		},
		{
			name: "invalid map state",
			attrs: Attributes{
				"layerListJSON": `[{"sourceDescriptor":{"indexPatternId":"idx-1"}}]`,
				"mapStateJSON":  "{broken",
			},
			expectedField: FieldMapState,
		},
		{
			name: "ad-hoc data views is not a list",
			attrs: Attributes{
				"layerListJSON": `[]`,
				"mapStateJSON":  `{"adHocDataViews": "nope"}`,
			},
			expectedField: FieldMapState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, refs, err := Extract(tt.attrs, nil)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Nil(t, refs)

			var malformed *MalformedDocumentError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, tt.expectedField, malformed.Field)
			assert.True(t, errors.Is(err, ErrMalformedDocument))
			assert.Contains(t, err.Error(), tt.expectedField)
		})
	}
}

func TestInject_ResolvesNames(t *testing.T) {
	attrs := Attributes{
		"title": "injected",
		"layerListJSON": `[
			{"sourceDescriptor": {"indexPatternRefName": "layer_0_source_index_pattern", "type": "ES_SEARCH"},
			 "joins": [{"right": {"indexPatternRefName": "layer_0_join_0_index_pattern"}}]},
			{"sourceDescriptor": {"indexPatternId": "adhoc-1"}}
		]`,
	}
	refs := []Reference{
		{Name: "tag-ref-0", Type: "tag", ID: "tag-1"},
		{Name: "layer_0_source_index_pattern", Type: IndexPatternType, ID: "idx-1"},
		{Name: "layer_0_join_0_index_pattern", Type: IndexPatternType, ID: "idx-2"},
	}

	out, err := Inject(attrs, refs)
	require.NoError(t, err)

	assert.JSONEq(t, `[
		{"sourceDescriptor": {"indexPatternId": "idx-1", "type": "ES_SEARCH"},
		 "joins": [{"right": {"indexPatternId": "idx-2"}}]},
		{"sourceDescriptor": {"indexPatternId": "adhoc-1"}}
	]`, out["layerListJSON"].(string))
	assert.Equal(t, "injected", out["title"])
}

func TestInject_FirstMatchingNameWins(t *testing.T) {
	attrs := Attributes{
		"layerListJSON": `[{"sourceDescriptor":{"indexPatternRefName":"layer_0_source_index_pattern"}}]`,
	}
	refs := []Reference{
		{Name: "layer_0_source_index_pattern", Type: IndexPatternType, ID: "first"},
		{Name: "layer_0_source_index_pattern", Type: IndexPatternType, ID: "second"},
	}

	out, err := Inject(attrs, refs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"sourceDescriptor":{"indexPatternId":"first"}}]`, out["layerListJSON"].(string))
}

func TestInject_MissingReference(t *testing.T) {
	attrs := Attributes{
		"layerListJSON": `[
			{"sourceDescriptor": {"indexPatternRefName": "layer_0_source_index_pattern"}},
			{"sourceDescriptor": {"indexPatternRefName": "layer_1_source_index_pattern"}}
		]`,
	}
	refs := []Reference{
		{Name: "layer_1_source_index_pattern", Type: IndexPatternType, ID: "idx-1"},
	}

	out, err := Inject(attrs, refs)
	require.Error(t, err)
	assert.Nil(t, out)

	var missing *MissingReferenceError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "layer_0_source_index_pattern", missing.Name)
	assert.True(t, errors.Is(err, ErrMissingReference))
	assert.Equal(t, `could not find reference "layer_0_source_index_pattern"`, err.Error())
}

func TestInject_MissingJoinReference(t *testing.T) {
	attrs := Attributes{
		"layerListJSON": `[{"joins": [{"right": {"indexPatternRefName": "layer_0_join_0_index_pattern"}}]}]`,
	}

	_, err := Inject(attrs, nil)

	var missing *MissingReferenceError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "layer_0_join_0_index_pattern", missing.Name)
}

func TestInject_NoLayerList(t *testing.T) {
	attrs := Attributes{"title": "no layers"}

	out, err := Inject(attrs, nil)
	require.NoError(t, err)
	assert.Equal(t, attrs, out)
}

func TestInject_Malformed(t *testing.T) {
	_, err := Inject(Attributes{"layerListJSON": "{not valid json"}, nil)

	var malformed *MalformedDocumentError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, FieldLayerList, malformed.Field)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		layerList string
	}{
		{name: "sources and joins", layerList: joinedLayerList},
		{name: "empty list", layerList: `[]`},
		{name: "layer without source", layerList: `[{"id": "plain", "type": "RASTER_TILE"}]`},
		{name: "null entries", layerList: `[null, {"sourceDescriptor": null, "joins": null}]`},
		{
			name:      "html characters survive",
			layerList: `[{"label": "<b>a & b</b>", "sourceDescriptor": {"indexPatternId": "idx<1>"}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := Attributes{"title": "round trip", "layerListJSON": tt.layerList}

			extracted, refs, err := Extract(doc, nil)
			require.NoError(t, err)

			injected, err := Inject(extracted, refs)
			require.NoError(t, err)

			assert.JSONEq(t, tt.layerList, injected["layerListJSON"].(string))
			assert.Equal(t, "round trip", injected["title"])
		})
	}
}

func TestExtract_PreservesHTMLCharacters(t *testing.T) {
	out, _, err := Extract(Attributes{
		"layerListJSON": `[{"sourceDescriptor": {"indexPatternId": "a&b", "label": "<x>"}}]`,
	}, nil)
	require.NoError(t, err)

	assert.NotContains(t, out["layerListJSON"], `<`)
	assert.NotContains(t, out["layerListJSON"], `&`)
	assert.Contains(t, out["layerListJSON"], `"<x>"`)
}

func TestConcurrentUse(t *testing.T) {
	attrs := Attributes{"layerListJSON": joinedLayerList}
	expected, expectedRefs, err := Extract(attrs, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, refs, err := Extract(attrs, nil)
			assert.NoError(t, err)
			assert.Equal(t, expectedRefs, refs)
			assert.Equal(t, expected["layerListJSON"], out["layerListJSON"])

			_, err = Inject(out, refs)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestIndexPatternRef(t *testing.T) {
	direct := DirectID("idx-1")
	id, ok := direct.ID()
	assert.True(t, ok)
	assert.Equal(t, "idx-1", id)
	_, ok = direct.Name()
	assert.False(t, ok)

	named := NamedRef("layer_0_source_index_pattern")
	name, ok := named.Name()
	assert.True(t, ok)
	assert.Equal(t, "layer_0_source_index_pattern", name)
	_, ok = named.ID()
	assert.False(t, ok)

	assert.True(t, IndexPatternRef{}.IsZero())
	assert.NotEqual(t, DirectID("x"), NamedRef("x"))
}

// Package references moves index-pattern ids out of a map's layer list and
// into a saved-object reference list, and puts them back on read.
//
// Both directions are pure functions over their inputs. Callers own
// persistence: Extract runs before a map is written, Inject after it is read.
package references

import (
	"encoding/json"
	"fmt"
	"maps"
)

const (
	// IndexPatternType is the saved-object type of every reference produced here.
	IndexPatternType = "index-pattern"

	FieldLayerList = "layerListJSON"
	FieldMapState  = "mapStateJSON"
)

// Reference is a named, typed pointer from a saved object to another one.
type Reference struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Attributes is a map document. Only layerListJSON and mapStateJSON are
// interpreted; every other field is passed through as is.
type Attributes map[string]interface{}

// SourceRefName is the reference name for the source descriptor of a layer.
func SourceRefName(layerIndex int) string {
	return fmt.Sprintf("layer_%d_source_index_pattern", layerIndex)
}

// JoinRefName is the reference name for the right side of a layer join.
func JoinRefName(layerIndex, joinIndex int) string {
	return fmt.Sprintf("layer_%d_join_%d_index_pattern", layerIndex, joinIndex)
}

// Extract replaces direct index-pattern ids in the layer list with reference
// names and returns existing followed by the references it created. Ids of
// ad-hoc data views listed in mapStateJSON stay in place.
//
// A document without a layer list is returned unchanged together with existing.
// Neither attrs nor existing is modified.
func Extract(attrs Attributes, existing []Reference) (Attributes, []Reference, error) {
	layerList, ok, err := stringAttribute(attrs, FieldLayerList)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return attrs, existing, nil
	}

	adHoc, err := adHocDataViewIDs(attrs)
	if err != nil {
		return nil, nil, err
	}

	var extracted []Reference
	rewritten, err := rewriteLayerList(layerList, func(name string, r IndexPatternRef) (IndexPatternRef, error) {
		id, ok := r.ID()
		if !ok {
			return r, nil
		}
		if _, skip := adHoc[id]; skip {
			return r, nil
		}
		extracted = append(extracted, Reference{Name: name, Type: IndexPatternType, ID: id})
		return NamedRef(name), nil
	})
	if err != nil {
		return nil, nil, err
	}

	out := maps.Clone(attrs)
	out[FieldLayerList] = rewritten

	refs := make([]Reference, 0, len(existing)+len(extracted))
	refs = append(refs, existing...)
	refs = append(refs, extracted...)
	return out, refs, nil
}

// Inject resolves every reference name in the layer list against refs and
// writes the id back. An unresolvable name fails the whole call with a
// *MissingReferenceError.
func Inject(attrs Attributes, refs []Reference) (Attributes, error) {
	layerList, ok, err := stringAttribute(attrs, FieldLayerList)
	if err != nil {
		return nil, err
	}
	if !ok {
		return attrs, nil
	}

	byName := make(map[string]string, len(refs))
	for _, ref := range refs {
		if _, seen := byName[ref.Name]; !seen {
			byName[ref.Name] = ref.ID
		}
	}

	rewritten, err := rewriteLayerList(layerList, func(_ string, r IndexPatternRef) (IndexPatternRef, error) {
		name, ok := r.Name()
		if !ok {
			return r, nil
		}
		id, found := byName[name]
		if !found {
			return r, &MissingReferenceError{Name: name}
		}
		return DirectID(id), nil
	})
	if err != nil {
		return nil, err
	}

	out := maps.Clone(attrs)
	out[FieldLayerList] = rewritten
	return out, nil
}

// stringAttribute reads a serialized attribute. Missing, null and empty
// values count as absent.
func stringAttribute(attrs Attributes, field string) (string, bool, error) {
	v, ok := attrs[field]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, &MalformedDocumentError{
			Field: field,
			Err:   fmt.Errorf("expected string, got %T", v),
		}
	}
	return s, s != "", nil
}

type mapState struct {
	AdHocDataViews []struct {
		ID string `json:"id"`
	} `json:"adHocDataViews"`
}

func adHocDataViewIDs(attrs Attributes) (map[string]struct{}, error) {
	raw, ok, err := stringAttribute(attrs, FieldMapState)
	if err != nil || !ok {
		return nil, err
	}

	var state mapState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, &MalformedDocumentError{Field: FieldMapState, Err: err}
	}

	ids := make(map[string]struct{}, len(state.AdHocDataViews))
	for _, view := range state.AdHocDataViews {
		if view.ID != "" {
			ids[view.ID] = struct{}{}
		}
	}
	return ids, nil
}

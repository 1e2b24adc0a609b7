package references

import (
	"encoding/json"
	"fmt"
)

// slotFunc maps the index-pattern slot at a layer position to its new value.
// name is the reference name bound to that position.
type slotFunc func(name string, r IndexPatternRef) (IndexPatternRef, error)

type layer map[string]json.RawMessage

// rewriteLayerList walks layers in order, visiting each source descriptor and
// then each join's right side, and returns a newly serialized list.
func rewriteLayerList(raw string, fn slotFunc) (string, error) {
	var layers []layer
	if err := json.Unmarshal([]byte(raw), &layers); err != nil {
		return "", &MalformedDocumentError{Field: FieldLayerList, Err: err}
	}
	if layers == nil {
		return "", &MalformedDocumentError{
			Field: FieldLayerList,
			Err:   fmt.Errorf("expected a list of layers"),
		}
	}

	out := make([]layer, len(layers))
	for i, l := range layers {
		rewritten, err := rewriteLayer(i, l, fn)
		if err != nil {
			return "", err
		}
		out[i] = rewritten
	}

	encoded, err := marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", FieldLayerList, err)
	}
	return string(encoded), nil
}

func rewriteLayer(index int, l layer, fn slotFunc) (layer, error) {
	if l == nil {
		return nil, nil
	}
	out := make(layer, len(l))
	for k, v := range l {
		out[k] = v
	}

	source, changed, err := rewriteSlot(l[keySourceDescriptor], SourceRefName(index), fn)
	if err != nil {
		return nil, err
	}
	if changed {
		out[keySourceDescriptor] = source
	}

	raw, ok := l[keyJoins]
	if !ok {
		return out, nil
	}
	var joins []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &joins); err != nil {
		// Not a list of joins; nothing to rewrite.
		return out, nil
	}

	joinsChanged := false
	for j, join := range joins {
		if join == nil {
			continue
		}
		right, changed, err := rewriteSlot(join[keyJoinRight], JoinRefName(index, j), fn)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		copied := make(map[string]json.RawMessage, len(join))
		for k, v := range join {
			copied[k] = v
		}
		copied[keyJoinRight] = right
		joins[j] = copied
		joinsChanged = true
	}

	if joinsChanged {
		encoded, err := marshal(joins)
		if err != nil {
			return nil, fmt.Errorf("encode joins of layer %d: %w", index, err)
		}
		out[keyJoins] = encoded
	}
	return out, nil
}

// rewriteSlot applies fn to the descriptor in raw. changed is false when raw
// is not a descriptor carrying a slot, or fn kept the slot as it was.
func rewriteSlot(raw json.RawMessage, name string, fn slotFunc) (json.RawMessage, bool, error) {
	d, ok := decodeDescriptor(raw)
	if !ok {
		return raw, false, nil
	}
	current := d.ref()
	if current.IsZero() {
		return raw, false, nil
	}

	next, err := fn(name, current)
	if err != nil {
		return nil, false, err
	}
	if next == current {
		return raw, false, nil
	}

	updated, err := d.withRef(next)
	if err != nil {
		return nil, false, err
	}
	encoded, err := marshal(updated)
	if err != nil {
		return nil, false, err
	}
	return encoded, true, nil
}

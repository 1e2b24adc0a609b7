package references

import (
	"bytes"
	"encoding/json"
)

const (
	keyIndexPatternID      = "indexPatternId"
	keyIndexPatternRefName = "indexPatternRefName"

	keySourceDescriptor = "sourceDescriptor"
	keyJoins            = "joins"
	keyJoinRight        = "right"
)

type refKind int

const (
	refNone refKind = iota
	refDirect
	refNamed
)

// IndexPatternRef is the index-pattern slot of a source descriptor or join.
// It holds either a direct dataset id or a symbolic reference name, never both.
type IndexPatternRef struct {
	kind  refKind
	value string
}

// DirectID builds a slot holding a raw index-pattern id.
func DirectID(id string) IndexPatternRef {
	return IndexPatternRef{kind: refDirect, value: id}
}

// NamedRef builds a slot holding a reference name.
func NamedRef(name string) IndexPatternRef {
	return IndexPatternRef{kind: refNamed, value: name}
}

func (r IndexPatternRef) IsZero() bool {
	return r.kind == refNone
}

func (r IndexPatternRef) ID() (string, bool) {
	return r.value, r.kind == refDirect
}

func (r IndexPatternRef) Name() (string, bool) {
	return r.value, r.kind == refNamed
}

// descriptor is a decoded JSON object. Values stay raw so fields this package
// does not know about survive a rewrite untouched.
type descriptor map[string]json.RawMessage

func decodeDescriptor(raw json.RawMessage) (descriptor, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var d descriptor
	if err := json.Unmarshal(raw, &d); err != nil || d == nil {
		return nil, false
	}
	return d, true
}

func (d descriptor) stringField(key string) (string, bool) {
	raw, ok := d[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ref reads the slot. A reference name takes precedence so an already
// extracted descriptor is never extracted twice.
func (d descriptor) ref() IndexPatternRef {
	if name, ok := d.stringField(keyIndexPatternRefName); ok {
		return NamedRef(name)
	}
	if id, ok := d.stringField(keyIndexPatternID); ok {
		return DirectID(id)
	}
	return IndexPatternRef{}
}

// withRef returns a copy of d whose slot holds r.
func (d descriptor) withRef(r IndexPatternRef) (descriptor, error) {
	out := make(descriptor, len(d)+1)
	for k, v := range d {
		if k == keyIndexPatternID || k == keyIndexPatternRefName {
			continue
		}
		out[k] = v
	}

	var key string
	switch r.kind {
	case refDirect:
		key = keyIndexPatternID
	case refNamed:
		key = keyIndexPatternRefName
	default:
		return out, nil
	}
	value, err := marshal(r.value)
	if err != nil {
		return nil, err
	}
	out[key] = value
	return out, nil
}

// marshal encodes like JSON.stringify: no HTML escaping, no trailing newline.
func marshal(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Body is the JSON object content of a revision. It is immutable and safe
// to share between goroutines; the serialized form is computed once and
// cached.
type Body struct {
	props map[string]Value

	once    sync.Once
	json    []byte
	jsonErr error
}

// NewBody wraps a property map. The map is owned by the Body afterwards.
func NewBody(props map[string]Value) *Body {
	if props == nil {
		props = map[string]Value{}
	}
	return &Body{props: props}
}

// NewBodyFromJSON parses a JSON object.
func NewBodyFromJSON(data []byte) (*Body, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	props, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("document body must be a JSON object, got %s", v.Kind())
	}
	b := &Body{props: props, json: append([]byte(nil), data...)}
	// The input already is the serialized form.
	b.once.Do(func() {})
	return b, nil
}

// NewBodyFromGo converts a map of plain Go values.
func NewBodyFromGo(props map[string]any) (*Body, error) {
	v, err := FromGo(props)
	if err != nil {
		return nil, err
	}
	obj, _ := v.AsObject()
	return NewBody(obj), nil
}

// Properties returns a shallow copy of the properties.
func (b *Body) Properties() map[string]Value {
	if b == nil {
		return nil
	}
	return maps.Clone(b.props)
}

// Get returns a single property.
func (b *Body) Get(key string) (Value, bool) {
	if b == nil {
		return Value{}, false
	}
	v, ok := b.props[key]
	return v, ok
}

// Len returns the number of top-level properties.
func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.props)
}

// JSON returns the serialized object.
func (b *Body) JSON() ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	b.once.Do(func() {
		data, err := json.Marshal(Object(b.props))
		if err != nil {
			b.jsonErr = fmt.Errorf("marshal body: %w", err)
			return
		}
		b.json = data
	})
	return b.json, b.jsonErr
}

// With returns a new Body with extra merged over the existing properties.
// A Null value in extra removes the key.
func (b *Body) With(extra map[string]Value) *Body {
	props := b.Properties()
	if props == nil {
		props = make(map[string]Value, len(extra))
	}
	for k, v := range extra {
		if v.IsNull() {
			delete(props, k)
			continue
		}
		props[k] = v
	}
	return NewBody(props)
}

// Without returns a new Body lacking the named keys.
func (b *Body) Without(keys ...string) *Body {
	props := b.Properties()
	for _, k := range keys {
		delete(props, k)
	}
	return NewBody(props)
}

// Equal compares bodies structurally.
func (b *Body) Equal(o *Body) bool {
	if b == nil || o == nil {
		return b.Len() == 0 && o.Len() == 0
	}
	return Object(b.props).Equal(Object(o.props))
}

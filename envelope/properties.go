package envelope

import (
	"iter"
	"maps"
	"reflect"
	"slices"
)

// Properties is an insertion-ordered bag of string keys to values.
//
// Values are one of nil, bool, int64, float64, string, *Properties or []any.
// Set normalises the common Go numeric and map types into that set; anything
// else is stored as given and rejected when the envelope is encoded.
//
// The zero value is ready to use. Properties is not safe for concurrent use.
type Properties struct {
	keys   []string
	values map[string]any
}

// NewProperties returns an empty property bag.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// PropertiesFromMap builds a bag from m. Go maps have no order, so keys are
// inserted sorted to keep the encoded form reproducible.
func PropertiesFromMap(m map[string]any) *Properties {
	p := NewProperties()
	for _, k := range slices.Sorted(maps.Keys(m)) {
		p.Set(k, m[k])
	}
	return p
}

// Get returns the value stored under key, or nil if absent.
func (p *Properties) Get(key string) any {
	if p == nil {
		return nil
	}
	return p.values[key]
}

// Lookup returns the value stored under key and whether it was present.
func (p *Properties) Lookup(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key. An existing key keeps its position.
func (p *Properties) Set(key string, value any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = normalize(value)
}

// Delete removes key. It is a no-op if key is absent.
func (p *Properties) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	p.keys = slices.DeleteFunc(p.keys, func(k string) bool { return k == key })
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.keys)
}

// All iterates over the pairs in insertion order.
func (p *Properties) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if p == nil {
			return
		}
		for _, k := range p.keys {
			if !yield(k, p.values[k]) {
				return
			}
		}
	}
}

// Map converts the bag to plain Go maps, recursively.
func (p *Properties) Map() map[string]any {
	out := make(map[string]any, p.Len())
	for k, v := range p.All() {
		out[k] = plain(v)
	}
	return out
}

// Clone returns a deep copy.
func (p *Properties) Clone() *Properties {
	c := NewProperties()
	for k, v := range p.All() {
		c.keys = append(c.keys, k)
		c.values[k] = cloneValue(v)
	}
	return c
}

// Equal reports whether both bags hold the same keys, in the same order, with
// equal values.
func (p *Properties) Equal(o *Properties) bool {
	if !slices.Equal(p.Keys(), o.Keys()) {
		return false
	}
	for k, v := range p.All() {
		if !equalValue(v, o.Get(k)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= 1<<63-1 {
			return int64(x)
		}
		return x
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case map[string]any:
		return PropertiesFromMap(x)
	case Properties:
		return x.Clone()
	case *Properties:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out
	}
	return v
}

func plain(v any) any {
	switch x := v.(type) {
	case *Properties:
		return x.Map()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case *Properties:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case *Properties:
		y, ok := b.(*Properties)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

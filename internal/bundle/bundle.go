// Package bundle implements the typed, change-aware key/value store that
// underlies every feedback_in/feedback_out/command_in/command_out snapshot
// in the supervisor. It replaces the source's ad-hoc dict-with-.changed()
// convention with a declared key set and an explicit previous/current split.
package bundle

import (
	"fmt"
)

// DataType names the declared type of a bundle attribute.
type DataType string

const (
	Bit    DataType = "bit"
	Int8   DataType = "int8"
	Uint8  DataType = "uint8"
	Uint16 DataType = "uint16"
	Uint32 DataType = "uint32"
	Str    DataType = "str"
)

// Bundle is a declared set of attributes, each holding a current and a
// previous value. Declare every key at construction time; Declare does not
// reject keys added after the owner has started calling Get/Update.
type Bundle struct {
	name     string
	order    []string
	dtype    map[string]DataType
	current  map[string]any
	previous map[string]any
}

// New creates an empty, named bundle. name is used only for panic messages.
func New(name string) *Bundle {
	return &Bundle{
		name:     name,
		dtype:    make(map[string]DataType),
		current:  make(map[string]any),
		previous: make(map[string]any),
	}
}

// Declare adds an attribute with its default value and data type. Declaring
// the same key twice is a programmer error.
func (b *Bundle) Declare(key string, def any, dtype DataType) {
	if _, ok := b.dtype[key]; ok {
		panic(fmt.Sprintf("bundle %s: key %q already declared", b.name, key))
	}
	if !typeMatches(dtype, def) {
		panic(fmt.Sprintf("bundle %s: default for %q does not match type %s", b.name, key, dtype))
	}
	b.order = append(b.order, key)
	b.dtype[key] = dtype
	b.current[key] = def
	b.previous[key] = def
}

// Keys returns the declared keys in declaration order.
func (b *Bundle) Keys() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *Bundle) mustDeclared(key string) DataType {
	dt, ok := b.dtype[key]
	if !ok {
		panic(fmt.Sprintf("bundle %s: access to undeclared key %q", b.name, key))
	}
	return dt
}

// Get returns the current value of key. Accessing an undeclared key is a
// programmer error and panics.
func (b *Bundle) Get(key string) any {
	b.mustDeclared(key)
	return b.current[key]
}

// GetOld returns the previous (pre-advance) value of key.
func (b *Bundle) GetOld(key string) any {
	b.mustDeclared(key)
	return b.previous[key]
}

// Update sets current values from kv. A type mismatch against the
// declared data type is a programmer error and panics.
func (b *Bundle) Update(kv map[string]any) {
	for key, val := range kv {
		dt := b.mustDeclared(key)
		if !typeMatches(dt, val) {
			panic(fmt.Sprintf("bundle %s: update of %q with %T does not match type %s", b.name, key, val, dt))
		}
		b.current[key] = val
	}
}

// Set is a single-key convenience wrapper around Update.
func (b *Bundle) Set(key string, val any) {
	b.Update(map[string]any{key: val})
}

// Advance copies every current value into previous. Must be called exactly
// once per tick, immediately after write() completes.
func (b *Bundle) Advance() {
	for _, key := range b.order {
		b.previous[key] = b.current[key]
	}
}

// Changed reports whether the current value of key differs from its
// previous (pre-advance) value.
func (b *Bundle) Changed(key string) bool {
	b.mustDeclared(key)
	return b.current[key] != b.previous[key]
}

// RisingEdge reports whether key's previous value was falsy and its
// current value is truthy.
func (b *Bundle) RisingEdge(key string) bool {
	b.mustDeclared(key)
	return !truthy(b.previous[key]) && truthy(b.current[key])
}

// Snapshot returns a flat copy of the current values, keyed by attribute
// name. Intended for telemetry publication; mutating the result has no
// effect on the bundle.
func (b *Bundle) Snapshot() map[string]any {
	out := make(map[string]any, len(b.order))
	for _, key := range b.order {
		out[key] = b.current[key]
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int8:
		return t != 0
	case uint8:
		return t != 0
	case uint16:
		return t != 0
	case uint32:
		return t != 0
	case string:
		return t != ""
	default:
		return false
	}
}

func typeMatches(dt DataType, v any) bool {
	switch dt {
	case Bit:
		_, ok := v.(bool)
		return ok
	case Int8:
		_, ok := v.(int8)
		return ok
	case Uint8:
		_, ok := v.(uint8)
		return ok
	case Uint16:
		_, ok := v.(uint16)
		return ok
	case Uint32:
		_, ok := v.(uint32)
		return ok
	case Str:
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}

package pref

import (
	"reflect"
	"slices"
)

// Slice returns a codec for []E built on elem. Decoding is lossy but total:
// elements that fail to decode are dropped, as are elements that encode to
// no value. Two slices are equal when they have the same length and elem
// reports every pair equal.
func Slice[E any](elem Codec[E]) Codec[[]E] {
	return sliceCodec[E]{elem: elem}
}

type sliceCodec[E any] struct {
	elem Codec[E]
}

func (c sliceCodec[E]) Decode(raw any) ([]E, bool) {
	items, ok := rawSlice(raw)
	if !ok {
		return nil, false
	}
	out := make([]E, 0, len(items))
	for _, item := range items {
		if value, ok := c.elem.Decode(item); ok {
			out = append(out, value)
		}
	}
	return out, true
}

func (c sliceCodec[E]) Encode(value []E) (any, bool) {
	out := make([]any, 0, len(value))
	for _, item := range value {
		if raw, ok := c.elem.Encode(item); ok {
			out = append(out, raw)
		}
	}
	return out, true
}

func (c sliceCodec[E]) Equal(a, b []E) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !c.elem.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func rawSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Map returns a codec for map[string]V built on value. Entries whose value
// fails to decode, or encodes to no value, are dropped.
func Map[V any](value Codec[V]) Codec[map[string]V] {
	return mapCodec[V]{value: value}
}

type mapCodec[V any] struct {
	value Codec[V]
}

func (c mapCodec[V]) Decode(raw any) (map[string]V, bool) {
	entries, ok := rawMap(raw)
	if !ok {
		return nil, false
	}
	out := make(map[string]V, len(entries))
	for key, item := range entries {
		if value, ok := c.value.Decode(item); ok {
			out[key] = value
		}
	}
	return out, true
}

func (c mapCodec[V]) Encode(value map[string]V) (any, bool) {
	out := make(map[string]any, len(value))
	for key, item := range value {
		if raw, ok := c.value.Encode(item); ok {
			out[key] = raw
		}
	}
	return out, true
}

func (c mapCodec[V]) Equal(a, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok || !c.value.Equal(av, bv) {
			return false
		}
	}
	return true
}

func rawMap(raw any) (map[string]any, bool) {
	if v, ok := raw.(map[string]any); ok {
		return v, true
	}
	if raw == nil {
		return nil, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// Optional returns a codec for *T built on inner. Decoding always succeeds:
// a raw value inner cannot decode becomes nil. Encoding nil yields no value,
// which stores remove rather than persisting a null marker.
func Optional[T any](inner Codec[T]) Codec[*T] {
	return optionalCodec[T]{inner: inner}
}

type optionalCodec[T any] struct {
	inner Codec[T]
}

func (c optionalCodec[T]) Decode(raw any) (*T, bool) {
	if raw == nil {
		return nil, true
	}
	value, ok := c.inner.Decode(raw)
	if !ok {
		return nil, true
	}
	return &value, true
}

func (c optionalCodec[T]) Encode(value *T) (any, bool) {
	if value == nil {
		return nil, false
	}
	return c.inner.Encode(*value)
}

func (c optionalCodec[T]) Equal(a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return c.inner.Equal(*a, *b)
}

// Enum returns a codec for an enumeration backed by a raw value type R.
// toCase maps a decoded raw value to a case and reports false for values
// outside the enumeration; toRaw maps a case back to its raw value.
func Enum[E comparable, R any](raw Codec[R], toCase func(R) (E, bool), toRaw func(E) R) Codec[E] {
	return enumCodec[E, R]{raw: raw, toCase: toCase, toRaw: toRaw}
}

// StringEnum is an Enum over a string-backed type restricted to cases.
func StringEnum[E ~string](cases ...E) Codec[E] {
	allowed := slices.Clone(cases)
	return Enum(String(), func(raw string) (E, bool) {
		value := E(raw)
		return value, slices.Contains(allowed, value)
	}, func(value E) string {
		return string(value)
	})
}

// IntEnum is an Enum over an int-backed type restricted to cases.
func IntEnum[E ~int](cases ...E) Codec[E] {
	allowed := slices.Clone(cases)
	return Enum(Int(), func(raw int) (E, bool) {
		value := E(raw)
		return value, slices.Contains(allowed, value)
	}, func(value E) int {
		return int(value)
	})
}

type enumCodec[E comparable, R any] struct {
	raw    Codec[R]
	toCase func(R) (E, bool)
	toRaw  func(E) R
}

func (c enumCodec[E, R]) Decode(raw any) (E, bool) {
	var zero E
	value, ok := c.raw.Decode(raw)
	if !ok || c.toCase == nil {
		return zero, false
	}
	return c.toCase(value)
}

func (c enumCodec[E, R]) Encode(value E) (any, bool) {
	if c.toRaw == nil {
		return nil, false
	}
	return c.raw.Encode(c.toRaw(value))
}

func (c enumCodec[E, R]) Equal(a, b E) bool { return a == b }

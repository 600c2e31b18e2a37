package pref

// Codec converts between a typed value and the untyped raw form held by a
// preferences store. Implementations MUST be safe for concurrent use.
//
// Decode never fails loudly: an incompatible raw shape yields ok=false and
// callers fall back to their default. Equal defines the notion of "same
// value" used to suppress redundant change notifications.
type Codec[T any] interface {
	// Decode converts raw into T, reporting false when raw has no sensible
	// interpretation as T.
	Decode(raw any) (T, bool)
	// Encode converts value into a raw store value. ok=false means the value
	// has no raw form and should be stored as an absent entry.
	Encode(value T) (any, bool)
	// Equal reports whether a and b are the same logical value.
	Equal(a, b T) bool
}

// DecodeFunc decodes a raw value.
type DecodeFunc[T any] func(raw any) (T, bool)

// EncodeFunc encodes a typed value.
type EncodeFunc[T any] func(value T) (any, bool)

// EqualFunc compares two typed values.
type EqualFunc[T any] func(a, b T) bool

// Func assembles a Codec from plain functions. A nil equal makes every
// comparison report false, so bindings notify on every change they observe.
func Func[T any](decode DecodeFunc[T], encode EncodeFunc[T], equal EqualFunc[T]) Codec[T] {
	return funcCodec[T]{decode: decode, encode: encode, equal: equal}
}

type funcCodec[T any] struct {
	decode DecodeFunc[T]
	encode EncodeFunc[T]
	equal  EqualFunc[T]
}

func (c funcCodec[T]) Decode(raw any) (T, bool) {
	if c.decode == nil {
		var zero T
		return zero, false
	}
	return c.decode(raw)
}

func (c funcCodec[T]) Encode(value T) (any, bool) {
	if c.encode == nil {
		return nil, false
	}
	return c.encode(value)
}

func (c funcCodec[T]) Equal(a, b T) bool {
	if c.equal == nil {
		return false
	}
	return c.equal(a, b)
}

// Comparable returns a Codec for a comparable type that reuses decode and
// encode and compares with ==.
func Comparable[T comparable](decode DecodeFunc[T], encode EncodeFunc[T]) Codec[T] {
	return funcCodec[T]{decode: decode, encode: encode, equal: func(a, b T) bool { return a == b }}
}

// WithEqual overrides the equality of an existing codec.
func WithEqual[T any](codec Codec[T], equal EqualFunc[T]) Codec[T] {
	return funcCodec[T]{decode: codec.Decode, encode: codec.Encode, equal: equal}
}

// RoundTrip encodes value and decodes the result with the same codec. It
// reports false when either stage has no result.
func RoundTrip[T any](codec Codec[T], value T) (T, bool) {
	raw, ok := codec.Encode(value)
	if !ok {
		var zero T
		return zero, false
	}
	return codec.Decode(raw)
}

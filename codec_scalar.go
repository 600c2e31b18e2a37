package pref

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// ReferenceDate is the epoch numeric dates are measured from.
var ReferenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Bool returns the boolean codec. Numbers decode as nonzero-is-true and text
// decodes with LenientBool.
func Bool() Codec[bool] { return boolCodec{} }

// Int returns the codec for int.
func Int() Codec[int] { return intCodec{} }

// Int64 returns the codec for int64.
func Int64() Codec[int64] { return int64Codec{} }

// Float64 returns the codec for float64.
func Float64() Codec[float64] { return float64Codec{} }

// Float32 returns the codec for float32.
func Float32() Codec[float32] { return float32Codec{} }

// String returns the string codec. Numbers and booleans decode to their
// textual rendering.
func String() Codec[string] { return stringCodec{} }

// Bytes returns the codec for opaque binary values. Only []byte decodes.
func Bytes() Codec[[]byte] { return bytesCodec{} }

// Date returns the codec for time.Time. Numeric and textual raw values are
// read as seconds since ReferenceDate.
func Date() Codec[time.Time] { return dateCodec{} }

type boolCodec struct{}

func (boolCodec) Decode(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		return LenientBool(v), true
	}
	if n, ok := rawNumber(raw); ok {
		return !n.isZero(), true
	}
	return false, false
}

func (boolCodec) Encode(value bool) (any, bool) { return value, true }

func (boolCodec) Equal(a, b bool) bool { return a == b }

type intCodec struct{}

func (intCodec) Decode(raw any) (int, bool) {
	v, ok := decodeInt64(raw)
	if !ok || v < math.MinInt || v > math.MaxInt {
		return 0, false
	}
	return int(v), true
}

func (intCodec) Encode(value int) (any, bool) { return value, true }

func (intCodec) Equal(a, b int) bool { return a == b }

type int64Codec struct{}

func (int64Codec) Decode(raw any) (int64, bool) { return decodeInt64(raw) }

func (int64Codec) Encode(value int64) (any, bool) { return value, true }

func (int64Codec) Equal(a, b int64) bool { return a == b }

func decodeInt64(raw any) (int64, bool) {
	if s, ok := raw.(string); ok {
		return LenientInt(s), true
	}
	n, ok := rawNumber(raw)
	if !ok {
		return 0, false
	}
	return n.int64()
}

type float64Codec struct{}

func (float64Codec) Decode(raw any) (float64, bool) {
	if s, ok := raw.(string); ok {
		return LenientFloat(s), true
	}
	n, ok := rawNumber(raw)
	if !ok {
		return 0, false
	}
	return n.float64(), true
}

func (float64Codec) Encode(value float64) (any, bool) { return value, true }

func (float64Codec) Equal(a, b float64) bool { return a == b }

type float32Codec struct{}

func (float32Codec) Decode(raw any) (float32, bool) {
	v, ok := float64Codec{}.Decode(raw)
	if !ok {
		return 0, false
	}
	return float32(v), true
}

func (float32Codec) Encode(value float32) (any, bool) { return value, true }

func (float32Codec) Equal(a, b float32) bool { return a == b }

type stringCodec struct{}

func (stringCodec) Decode(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case json.Number:
		return v.String(), true
	}
	n, ok := rawNumber(raw)
	if !ok {
		return "", false
	}
	return n.String(), true
}

func (stringCodec) Encode(value string) (any, bool) { return value, true }

func (stringCodec) Equal(a, b string) bool { return a == b }

type bytesCodec struct{}

func (bytesCodec) Decode(raw any) ([]byte, bool) {
	v, ok := raw.([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

func (bytesCodec) Encode(value []byte) (any, bool) {
	if value == nil {
		return []byte{}, true
	}
	return bytes.Clone(value), true
}

func (bytesCodec) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

type dateCodec struct{}

func (dateCodec) Decode(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, true
	case bool:
		return time.Time{}, false
	case string:
		return sinceReference(LenientFloat(v)), true
	}
	n, ok := rawNumber(raw)
	if !ok {
		return time.Time{}, false
	}
	return sinceReference(n.float64()), true
}

func (dateCodec) Encode(value time.Time) (any, bool) { return value, true }

func (dateCodec) Equal(a, b time.Time) bool { return a.Equal(b) }

func sinceReference(seconds float64) time.Time {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ReferenceDate
	}
	const limit = 1 << 62
	if seconds > limit {
		seconds = limit
	} else if seconds < -limit {
		seconds = -limit
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(ReferenceDate.Unix()+int64(whole), int64(frac*float64(time.Second))).UTC()
}

type numberKind int

const (
	signedNumber numberKind = iota
	unsignedNumber
	floatNumber
)

// number is a normalised view over the Go numeric kinds a store may hand
// back. Booleans count as 0/1 so numeric codecs accept flag values.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
	f32  bool
}

func rawNumber(raw any) (number, bool) {
	switch v := raw.(type) {
	case int:
		return number{kind: signedNumber, i: int64(v)}, true
	case int8:
		return number{kind: signedNumber, i: int64(v)}, true
	case int16:
		return number{kind: signedNumber, i: int64(v)}, true
	case int32:
		return number{kind: signedNumber, i: int64(v)}, true
	case int64:
		return number{kind: signedNumber, i: v}, true
	case uint:
		return number{kind: unsignedNumber, u: uint64(v)}, true
	case uint8:
		return number{kind: unsignedNumber, u: uint64(v)}, true
	case uint16:
		return number{kind: unsignedNumber, u: uint64(v)}, true
	case uint32:
		return number{kind: unsignedNumber, u: uint64(v)}, true
	case uint64:
		return number{kind: unsignedNumber, u: v}, true
	case float32:
		return number{kind: floatNumber, f: float64(v), f32: true}, true
	case float64:
		return number{kind: floatNumber, f: v}, true
	case bool:
		if v {
			return number{kind: signedNumber, i: 1}, true
		}
		return number{kind: signedNumber}, true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return number{kind: signedNumber, i: i}, true
		}
		if f, err := v.Float64(); err == nil {
			return number{kind: floatNumber, f: f}, true
		}
	}
	return number{}, false
}

func (n number) isZero() bool {
	switch n.kind {
	case signedNumber:
		return n.i == 0
	case unsignedNumber:
		return n.u == 0
	default:
		return n.f == 0
	}
}

// int64 reports the value as int64. Fractional or out of range values have
// no integer form.
func (n number) int64() (int64, bool) {
	switch n.kind {
	case signedNumber:
		return n.i, true
	case unsignedNumber:
		if n.u > math.MaxInt64 {
			return 0, false
		}
		return int64(n.u), true
	default:
		if math.IsNaN(n.f) || math.Trunc(n.f) != n.f {
			return 0, false
		}
		if n.f < math.MinInt64 || n.f >= math.MaxInt64 {
			return 0, false
		}
		return int64(n.f), true
	}
}

func (n number) float64() float64 {
	switch n.kind {
	case signedNumber:
		return float64(n.i)
	case unsignedNumber:
		return float64(n.u)
	default:
		return n.f
	}
}

func (n number) String() string {
	switch n.kind {
	case signedNumber:
		return strconv.FormatInt(n.i, 10)
	case unsignedNumber:
		return strconv.FormatUint(n.u, 10)
	default:
		if n.f32 {
			return strconv.FormatFloat(n.f, 'g', -1, 32)
		}
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
}

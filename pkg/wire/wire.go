// Package wire encodes the raw values preference stores hold into bytes for
// backends that only keep opaque payloads (Redis strings, NATS KV entries,
// SQLite blobs). The envelope is a recursive Avro record, so nested slices
// and string-keyed maps survive a round trip.
//
// Decoded integers come back as int64, floats as float64, slices as []any,
// maps as map[string]any and times as UTC time.Time. The codecs in package
// pref accept all of these.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/linkedin/goavro/v2"
)

// ErrUnsupported reports a raw value the envelope cannot carry.
var ErrUnsupported = errors.New("wire: unsupported value")

const envelopeSchema = `{
  "type": "record",
  "name": "Value",
  "namespace": "pref.wire",
  "fields": [{
    "name": "v",
    "type": [
      "null", "boolean", "long", "double", "string", "bytes",
      {"type": "record", "name": "Time", "fields": [{"name": "unixNano", "type": "long"}]},
      {"type": "array", "items": "Value"},
      {"type": "map", "values": "Value"}
    ]
  }]
}`

const timeBranch = "pref.wire.Time"

var envelope = sync.OnceValues(func() (*goavro.Codec, error) {
	return goavro.NewCodec(envelopeSchema)
})

// Marshal encodes raw into the envelope.
func Marshal(raw any) ([]byte, error) {
	codec, err := envelope()
	if err != nil {
		return nil, fmt.Errorf("wire: schema: %w", err)
	}
	native, err := toNative(raw)
	if err != nil {
		return nil, err
	}
	return codec.BinaryFromNative(nil, native)
}

// Unmarshal decodes a payload produced by Marshal.
func Unmarshal(data []byte) (any, error) {
	codec, err := envelope()
	if err != nil {
		return nil, fmt.Errorf("wire: schema: %w", err)
	}
	native, rest, err := codec.NativeFromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("wire: decode: %d trailing bytes", len(rest))
	}
	return fromNative(native)
}

func toNative(raw any) (map[string]any, error) {
	union, err := toUnion(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"v": union}, nil
}

func toUnion(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return goavro.Union("boolean", v), nil
	case string:
		return goavro.Union("string", v), nil
	case []byte:
		return goavro.Union("bytes", v), nil
	case time.Time:
		return goavro.Union(timeBranch, map[string]any{"unixNano": v.UnixNano()}), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return goavro.Union("long", i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: json.Number %q", ErrUnsupported, v.String())
		}
		return goavro.Union("double", f), nil
	case []any:
		return toArray(v)
	case map[string]any:
		return toMap(v)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return goavro.Union("long", rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return goavro.Union("long", int64(u)), nil
		}
		return goavro.Union("double", float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return goavro.Union("double", rv.Float()), nil
	case reflect.String:
		return goavro.Union("string", rv.String()), nil
	case reflect.Bool:
		return goavro.Union("boolean", rv.Bool()), nil
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return toArray(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		entries := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries[iter.Key().String()] = iter.Value().Interface()
		}
		return toMap(entries)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return toUnion(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, raw)
}

func toArray(items []any) (any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		native, err := toNative(item)
		if err != nil {
			return nil, fmt.Errorf("wire: [%d]: %w", i, err)
		}
		out[i] = native
	}
	return goavro.Union("array", out), nil
}

func toMap(entries map[string]any) (any, error) {
	out := make(map[string]any, len(entries))
	for key, item := range entries {
		native, err := toNative(item)
		if err != nil {
			return nil, fmt.Errorf("wire: [%q]: %w", key, err)
		}
		out[key] = native
	}
	return goavro.Union("map", out), nil
}

func fromNative(native any) (any, error) {
	record, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("wire: decode: unexpected %T", native)
	}
	union := record["v"]
	if union == nil {
		return nil, nil
	}
	branches, ok := union.(map[string]any)
	if !ok || len(branches) != 1 {
		return nil, fmt.Errorf("wire: decode: malformed union %T", union)
	}
	for branch, value := range branches {
		switch branch {
		case "boolean", "long", "double", "string", "bytes":
			return value, nil
		case timeBranch:
			fields, _ := value.(map[string]any)
			nanos, _ := fields["unixNano"].(int64)
			return time.Unix(0, nanos).UTC(), nil
		case "array":
			items, _ := value.([]any)
			out := make([]any, len(items))
			for i, item := range items {
				decoded, err := fromNative(item)
				if err != nil {
					return nil, err
				}
				out[i] = decoded
			}
			return out, nil
		case "map":
			entries, _ := value.(map[string]any)
			out := make(map[string]any, len(entries))
			for key, item := range entries {
				decoded, err := fromNative(item)
				if err != nil {
					return nil, err
				}
				out[key] = decoded
			}
			return out, nil
		default:
			return nil, fmt.Errorf("wire: decode: unknown branch %q", branch)
		}
	}
	return nil, nil
}

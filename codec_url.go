package pref

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linkedin/goavro/v2"
)

// URL returns the codec for *url.URL.
//
// Decode accepts a URL value, a filesystem path string (a leading "~" is
// expanded to the home directory and relative paths resolve against the
// working directory) or a URL archive produced by ArchiveURL. Encode stores
// the absolute path of the URL.
func URL() Codec[*url.URL] { return urlCodec{} }

type urlCodec struct{}

func (urlCodec) Decode(raw any) (*url.URL, bool) {
	switch v := raw.(type) {
	case *url.URL:
		if v == nil {
			return nil, false
		}
		clone := *v
		return &clone, true
	case url.URL:
		return &v, true
	case string:
		return fileURL(v)
	case []byte:
		return UnarchiveURL(v)
	default:
		return nil, false
	}
}

func (urlCodec) Encode(value *url.URL) (any, bool) {
	if value == nil {
		return nil, false
	}
	path := value.Path
	if path == "" && value.Opaque != "" {
		path = value.Opaque
	}
	if value.Scheme == "" || value.Scheme == "file" {
		if abs, err := filepath.Abs(filepath.FromSlash(path)); err == nil {
			path = filepath.ToSlash(abs)
		}
	}
	return path, true
}

func (urlCodec) Equal(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

func fileURL(path string) (*url.URL, bool) {
	expanded := expandTilde(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, false
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, true
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

const urlArchiveSchema = `{
  "type": "record",
  "name": "URLReference",
  "namespace": "pref",
  "fields": [
    {"name": "href", "type": "string"}
  ]
}`

var urlArchiveCodec = sync.OnceValues(func() (*goavro.Codec, error) {
	return goavro.NewCodec(urlArchiveSchema)
})

// ArchiveURL serialises u into the opaque binary reference form accepted by
// the URL codec.
func ArchiveURL(u *url.URL) ([]byte, error) {
	if u == nil {
		return nil, fmt.Errorf("pref: archive nil url")
	}
	codec, err := urlArchiveCodec()
	if err != nil {
		return nil, fmt.Errorf("pref: url archive schema: %w", err)
	}
	return codec.BinaryFromNative(nil, map[string]any{"href": u.String()})
}

// UnarchiveURL reverses ArchiveURL. Malformed archives report false.
func UnarchiveURL(data []byte) (*url.URL, bool) {
	codec, err := urlArchiveCodec()
	if err != nil || len(data) == 0 {
		return nil, false
	}
	native, rest, err := codec.NativeFromBinary(data)
	if err != nil || len(rest) != 0 {
		return nil, false
	}
	record, ok := native.(map[string]any)
	if !ok {
		return nil, false
	}
	href, ok := record["href"].(string)
	if !ok {
		return nil, false
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	return u, true
}

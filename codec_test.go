package pref

import (
	"encoding/json"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestScalarRoundTrip(t *testing.T) {
	assertRoundTrip(t, Bool(), true)
	assertRoundTrip(t, Bool(), false)
	assertRoundTrip(t, Int(), -42)
	assertRoundTrip(t, Int(), math.MaxInt)
	assertRoundTrip(t, Int64(), int64(math.MinInt64))
	assertRoundTrip(t, Float64(), 3.25)
	assertRoundTrip(t, Float32(), float32(1.5))
	assertRoundTrip(t, String(), "hello")
	assertRoundTrip(t, String(), "")
	assertRoundTrip(t, Bytes(), []byte{0, 1, 2})
	assertRoundTrip(t, Date(), time.Date(2024, 2, 29, 12, 30, 0, 0, time.UTC))
}

func assertRoundTrip[T any](t *testing.T, codec Codec[T], value T) {
	t.Helper()
	got, ok := RoundTrip(codec, value)
	if !ok {
		t.Fatalf("round trip of %v reported no value", value)
	}
	if !codec.Equal(got, value) {
		t.Fatalf("round trip of %v produced %v", value, got)
	}
}

func TestBoolDecode(t *testing.T) {
	cases := []struct {
		raw  any
		want bool
		ok   bool
	}{
		{"YES", true, true},
		{"true", true, true},
		{"1", true, true},
		{"2", true, true},
		{"NO", false, true},
		{"false", false, true},
		{"0", false, true},
		{"ABC", false, true},
		{0, false, true},
		{7, true, true},
		{uint8(1), true, true},
		{-0.5, true, true},
		{0.0, false, true},
		{json.Number("3"), true, true},
		{[]byte("1"), false, false},
		{nil, false, false},
		{map[string]any{}, false, false},
	}
	for _, tc := range cases {
		got, ok := Bool().Decode(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Bool().Decode(%#v) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIntDecode(t *testing.T) {
	cases := []struct {
		raw  any
		want int
		ok   bool
	}{
		{"1.7", 1, true},
		{"0.7", 0, true},
		{"NO", 0, true},
		{false, 0, true},
		{true, 1, true},
		{int32(12), 12, true},
		{uint16(7), 7, true},
		{4.0, 4, true},
		{4.5, 0, false},
		{math.NaN(), 0, false},
		{uint64(math.MaxUint64), 0, false},
		{json.Number("9"), 9, true},
		{[]byte{1}, 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := Int().Decode(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Int().Decode(%#v) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFloatDecode(t *testing.T) {
	if got, ok := Float64().Decode("2.5kg"); !ok || got != 2.5 {
		t.Fatalf("expected lenient text 2.5, got %v,%v", got, ok)
	}
	if got, ok := Float64().Decode(int64(3)); !ok || got != 3 {
		t.Fatalf("expected integer widening, got %v,%v", got, ok)
	}
	if got, ok := Float64().Decode(true); !ok || got != 1 {
		t.Fatalf("expected bool as 1, got %v,%v", got, ok)
	}
	if got, ok := Float32().Decode(float64(0.1)); !ok || math.Abs(float64(got)-0.1) > 1e-7 {
		t.Fatalf("expected narrowed 0.1, got %v,%v", got, ok)
	}
	if _, ok := Float64().Decode(time.Now()); ok {
		t.Fatalf("expected time to be rejected")
	}
}

func TestStringDecode(t *testing.T) {
	cases := []struct {
		raw  any
		want string
	}{
		{"plain", "plain"},
		{false, "0"},
		{true, "1"},
		{0.0, "0"},
		{1.5, "1.5"},
		{float32(0.1), "0.1"},
		{-3, "-3"},
		{uint(8), "8"},
		{json.Number("1e3"), "1e3"},
	}
	for _, tc := range cases {
		got, ok := String().Decode(tc.raw)
		if !ok || got != tc.want {
			t.Fatalf("String().Decode(%#v) = %q,%v want %q", tc.raw, got, ok, tc.want)
		}
	}
	if _, ok := String().Decode([]byte("x")); ok {
		t.Fatalf("expected bytes to be rejected")
	}
}

func TestBytesAcceptOnlyBytes(t *testing.T) {
	if _, ok := Bytes().Decode("abc"); ok {
		t.Fatalf("expected text to be rejected")
	}
	src := []byte("abc")
	got, ok := Bytes().Decode(src)
	if !ok || string(got) != "abc" {
		t.Fatalf("unexpected decode %q,%v", got, ok)
	}
	got[0] = 'z'
	if src[0] != 'a' {
		t.Fatalf("decode must copy the raw bytes")
	}
	raw, ok := Bytes().Encode(nil)
	if !ok || len(raw.([]byte)) != 0 {
		t.Fatalf("expected empty bytes for nil, got %#v", raw)
	}
}

func TestDateDecode(t *testing.T) {
	got, ok := Date().Decode(86400)
	if !ok || !got.Equal(ReferenceDate.Add(24*time.Hour)) {
		t.Fatalf("expected one day after reference, got %v,%v", got, ok)
	}
	got, ok = Date().Decode("-0.5")
	if !ok || !got.Equal(ReferenceDate.Add(-500*time.Millisecond)) {
		t.Fatalf("expected half a second before reference, got %v,%v", got, ok)
	}
	if _, ok := Date().Decode(true); ok {
		t.Fatalf("expected bool to be rejected")
	}
	a := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("X", 3600))
	if !Date().Equal(a, b) {
		t.Fatalf("expected instants in different zones to be equal")
	}
}

func TestURLCodec(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	got, ok := URL().Decode("~/notes.txt")
	if !ok {
		t.Fatalf("expected tilde path to decode")
	}
	want := filepath.ToSlash(filepath.Join(home, "notes.txt"))
	if got.Scheme != "file" || got.Path != want {
		t.Fatalf("expected file URL for %q, got %v", want, got)
	}

	raw, ok := URL().Encode(got)
	if !ok || raw != want {
		t.Fatalf("expected encoded path %q, got %v", want, raw)
	}
	again, ok := URL().Decode(raw)
	if !ok || !URL().Equal(got, again) {
		t.Fatalf("expected round trip, got %v", again)
	}

	remote, _ := url.Parse("https://example.com/a?b=1")
	archive, err := ArchiveURL(remote)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	unarchived, ok := URL().Decode(archive)
	if !ok || unarchived.String() != remote.String() {
		t.Fatalf("expected %v from archive, got %v", remote, unarchived)
	}
	if _, ok := URL().Decode([]byte{0xff, 0x00}); ok {
		t.Fatalf("expected garbage archive to be rejected")
	}
	if _, ok := URL().Decode(42); ok {
		t.Fatalf("expected number to be rejected")
	}
}

func TestSliceIsLossy(t *testing.T) {
	codec := Slice(Bytes())
	got, ok := codec.Decode([]any{[]byte("ok"), "bad", []byte("also")})
	if !ok || len(got) != 2 {
		t.Fatalf("expected two surviving elements, got %v,%v", got, ok)
	}

	ints, ok := Slice(Int()).Decode([]string{"1", "2x"})
	if !ok || !reflect.DeepEqual(ints, []int{1, 2}) {
		t.Fatalf("expected typed slice decode, got %v,%v", ints, ok)
	}
	if _, ok := Slice(Int()).Decode("1,2"); ok {
		t.Fatalf("expected string to be rejected as a sequence")
	}

	optional := Slice(Optional(Int()))
	raw, _ := optional.Encode([]*int{nil, ptr(3)})
	if !reflect.DeepEqual(raw, []any{3}) {
		t.Fatalf("expected nil element dropped, got %#v", raw)
	}
	if !Slice(Int()).Equal([]int{1, 2}, []int{1, 2}) || Slice(Int()).Equal([]int{1}, []int{2}) {
		t.Fatalf("unexpected slice equality")
	}
}

func TestMapIsLossy(t *testing.T) {
	got, ok := Map(Date()).Decode(map[string]any{
		"good": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		"bad":  true,
	})
	if !ok || len(got) != 1 {
		t.Fatalf("expected one surviving entry, got %v,%v", got, ok)
	}
	if _, present := got["good"]; !present {
		t.Fatalf("expected key preserved, got %v", got)
	}

	typed, ok := Map(Int()).Decode(map[string]int{"a": 1})
	if !ok || typed["a"] != 1 {
		t.Fatalf("expected typed map decode, got %v,%v", typed, ok)
	}
	if _, ok := Map(Int()).Decode(map[int]any{1: 1}); ok {
		t.Fatalf("expected non-string keys to be rejected")
	}
	if !Map(Int()).Equal(map[string]int{"a": 1}, map[string]int{"a": 1}) || Map(Int()).Equal(map[string]int{"a": 1}, map[string]int{"b": 1}) {
		t.Fatalf("unexpected map equality")
	}
}

func TestOptionalCodec(t *testing.T) {
	codec := Optional(Int())

	got, ok := codec.Decode(nil)
	if !ok || got != nil {
		t.Fatalf("expected absent decode to yield nil, got %v,%v", got, ok)
	}
	got, ok = codec.Decode([]byte("x"))
	if !ok || got != nil {
		t.Fatalf("expected undecodable raw to yield nil, got %v,%v", got, ok)
	}
	got, ok = codec.Decode(0)
	if !ok || got == nil || *got != 0 {
		t.Fatalf("expected explicit zero, got %v,%v", got, ok)
	}
	if _, ok := codec.Encode(nil); ok {
		t.Fatalf("expected nil to encode to no value")
	}
	if raw, ok := codec.Encode(ptr(4)); !ok || raw != 4 {
		t.Fatalf("expected 4, got %v,%v", raw, ok)
	}
	if !codec.Equal(nil, nil) || codec.Equal(nil, ptr(0)) || !codec.Equal(ptr(2), ptr(2)) {
		t.Fatalf("unexpected optional equality")
	}
}

type theme string

const (
	themeLight theme = "light"
	themeDark  theme = "dark"
)

type level int

func TestEnumCodecs(t *testing.T) {
	themes := StringEnum(themeLight, themeDark)
	if got, ok := themes.Decode("dark"); !ok || got != themeDark {
		t.Fatalf("expected dark, got %v,%v", got, ok)
	}
	if _, ok := themes.Decode("sepia"); ok {
		t.Fatalf("expected unknown case to be rejected")
	}
	if raw, ok := themes.Encode(themeLight); !ok || raw != "light" {
		t.Fatalf("expected light, got %v,%v", raw, ok)
	}

	levels := IntEnum(level(1), level(2))
	if got, ok := levels.Decode("2"); !ok || got != 2 {
		t.Fatalf("expected lenient int decode then case lookup, got %v,%v", got, ok)
	}
	if _, ok := levels.Decode(3); ok {
		t.Fatalf("expected out-of-range case to be rejected")
	}
	if _, ok := levels.Decode([]byte{}); ok {
		t.Fatalf("expected raw decode failure to reject")
	}
}

func TestFuncCodecWithoutEqualityNeverDedupes(t *testing.T) {
	codec := Func[int](func(raw any) (int, bool) { return Int().Decode(raw) }, func(v int) (any, bool) { return v, true }, nil)
	if codec.Equal(1, 1) {
		t.Fatalf("expected no equality without an EqualFunc")
	}
	withEq := WithEqual(codec, func(a, b int) bool { return a == b })
	if !withEq.Equal(1, 1) {
		t.Fatalf("expected overridden equality")
	}
	cmp := Comparable[string](String().Decode, String().Encode)
	if !cmp.Equal("a", "a") || cmp.Equal("a", "b") {
		t.Fatalf("unexpected comparable equality")
	}
}

func ptr[T any](v T) *T { return &v }

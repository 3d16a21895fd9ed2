// Package querystring parses and builds nested form parameters using the
// bracket conventions of the storefront runtime: "a[]=x", "a[k]=x" and
// "a[0][b]=x". Key order is preserved, which the inbound signature scheme
// depends on.
package querystring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Map is an insertion-ordered parameter tree. Values are string or *Map.
type Map struct {
	keys  []string
	items map[string]any
}

// New returns an empty Map.
func New() *Map {
	return &Map{items: make(map[string]any)}
}

// Len returns the number of top-level keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.items[key]
	return v, ok
}

// String returns the scalar value under key, or "" if absent or nested.
func (m *Map) String(key string) string {
	s, _ := m.items[key].(string)
	return s
}

// Has reports whether key is present with a non-empty value.
func (m *Map) Has(key string) bool {
	switch v := m.items[key].(type) {
	case string:
		return v != ""
	case *Map:
		return v.Len() > 0
	}
	return false
}

// Set stores v (a string or *Map) under key. An existing key keeps its position.
func (m *Map) Set(key string, v any) {
	switch v.(type) {
	case string, *Map:
	default:
		panic(fmt.Sprintf("querystring: unsupported value type %T", v))
	}
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = v
}

// Delete removes key.
func (m *Map) Delete(key string) {
	if _, ok := m.items[key]; !ok {
		return
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// SortKeys orders the top-level keys by byte-wise string comparison.
func (m *Map) SortKeys() {
	sort.Strings(m.keys)
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New()
	for _, k := range m.keys {
		switch v := m.items[k].(type) {
		case *Map:
			out.Set(k, v.Clone())
		default:
			out.Set(k, v)
		}
	}
	return out
}

// Merge copies every top-level key of other into m, overwriting existing keys.
func (m *Map) Merge(other *Map) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		m.Set(k, other.items[k])
	}
}

// StringMap flattens the top level to scalar values; nested maps are skipped.
func (m *Map) StringMap() map[string]string {
	out := make(map[string]string, len(m.keys))
	for _, k := range m.keys {
		if s, ok := m.items[k].(string); ok {
			out[k] = s
		}
	}
	return out
}

// nextIndex mirrors append semantics: one past the largest integer key.
func (m *Map) nextIndex() string {
	next := 0
	for _, k := range m.keys {
		if n, err := strconv.Atoi(k); err == nil && n >= next {
			next = n + 1
		}
	}
	return strconv.Itoa(next)
}

// Parse decodes an urlencoded string into a Map. Later duplicates of a
// scalar key win; "[]" appends.
func Parse(raw string) (*Map, error) {
	m := New()
	if err := ParseInto(m, raw); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseInto decodes raw and merges it into m.
func ParseInto(m *Map, raw string) error {
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return fmt.Errorf("decoding key %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return fmt.Errorf("decoding value for %q: %w", key, err)
		}
		base, segs := splitKey(key)
		if base == "" {
			continue
		}
		assign(m, base, segs, value)
	}
	return nil
}

// splitKey splits "a[b][]" into "a" and ["b", ""]. Spaces and dots in the
// base name become underscores, as the storefront runtime does.
func splitKey(key string) (string, []string) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.Contains(key[open:], "]") {
		return normaliseBase(key), nil
	}
	base := normaliseBase(key[:open])
	var segs []string
	rest := key[open:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	return base, segs
}

func normaliseBase(s string) string {
	return strings.NewReplacer(" ", "_", ".", "_").Replace(s)
}

func assign(m *Map, key string, segs []string, value string) {
	if len(segs) == 0 {
		m.Set(key, value)
		return
	}
	child, ok := m.items[key].(*Map)
	if !ok {
		child = New()
		m.Set(key, child)
	}
	next := segs[0]
	if next == "" {
		next = child.nextIndex()
	}
	assign(child, next, segs[1:], value)
}

// Build encodes m as a query string with bracketed nested keys. Nested
// brackets are percent-encoded and integer indexes are kept.
func Build(m *Map) string {
	var parts []string
	build(&parts, m, "")
	return strings.Join(parts, "&")
}

func build(parts *[]string, m *Map, prefix string) {
	for _, k := range m.keys {
		name := Escape(k)
		if prefix != "" {
			name = prefix + "%5B" + name + "%5D"
		}
		switch v := m.items[k].(type) {
		case string:
			*parts = append(*parts, name+"="+Escape(v))
		case *Map:
			build(parts, v, name)
		}
	}
}

// Escape form-encodes s. Unlike url.QueryEscape it also encodes '~', so
// strings match byte for byte with what the remote signer produces.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "~", "%7E")
}

// FromJSON converts a JSON object into a Map: object keys are sorted,
// arrays become integer-indexed maps, null members are dropped, and
// booleans become "1" or "0".
func FromJSON(data []byte) (*Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return fromObject(obj), nil
}

// FromValue marshals v to JSON and converts it with FromJSON.
func FromValue(v any) (*Map, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return FromJSON(data)
}

func fromObject(obj map[string]any) *Map {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := New()
	for _, k := range keys {
		if v, ok := convert(obj[k]); ok {
			m.Set(k, v)
		}
	}
	return m
}

func convert(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		if val {
			return "1", true
		}
		return "0", true
	case []any:
		m := New()
		for i, item := range val {
			if c, ok := convert(item); ok {
				m.Set(strconv.Itoa(i), c)
			}
		}
		return m, true
	case map[string]any:
		return fromObject(val), true
	}
	return fmt.Sprint(v), true
}

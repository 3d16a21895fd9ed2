package querystring

import (
	"testing"
)

func TestParse_NestedKeys(t *testing.T) {
	m, err := Parse("resource=integration&items[]=a&items[]=b&meta[color]=red&meta[size]=L&plain=1&plain=2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := m.String("resource"); got != "integration" {
		t.Errorf("resource = %q, want integration", got)
	}
	if got := m.String("plain"); got != "2" {
		t.Errorf("plain = %q, want last value 2", got)
	}

	items, ok := m.Get("items")
	if !ok {
		t.Fatal("items missing")
	}
	im := items.(*Map)
	if im.String("0") != "a" || im.String("1") != "b" {
		t.Errorf("items = %v", im.StringMap())
	}

	meta, _ := m.Get("meta")
	if got := meta.(*Map).Keys(); len(got) != 2 || got[0] != "color" || got[1] != "size" {
		t.Errorf("meta keys = %v, want [color size]", got)
	}
}

func TestParse_DecodesEscapes(t *testing.T) {
	m, err := Parse("name=Jane+Doe&email=jane%40example.com&a%5Bb%5D=c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := m.String("name"); got != "Jane Doe" {
		t.Errorf("name = %q", got)
	}
	if got := m.String("email"); got != "jane@example.com" {
		t.Errorf("email = %q", got)
	}
	a, _ := m.Get("a")
	if a.(*Map).String("b") != "c" {
		t.Error("encoded brackets should parse as nesting")
	}
}

func TestParse_BadEscape(t *testing.T) {
	if _, err := Parse("a=%zz"); err == nil {
		t.Error("expected error for invalid escape")
	}
}

func TestBuild_RoundTrip(t *testing.T) {
	raw := "b=2&a%5B0%5D=x&a%5B1%5D=y&c%5Bk%5D%5B0%5D=z"
	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := Build(m); got != raw {
		t.Errorf("Build = %q, want %q", got, raw)
	}
}

func TestBuild_SortAndEscape(t *testing.T) {
	m := New()
	m.Set("zeta", "a b")
	m.Set("alpha", "x~y")
	m.SortKeys()

	want := "alpha=x%7Ey&zeta=a+b"
	if got := Build(m); got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestSetKeepsPosition(t *testing.T) {
	m := New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("a", "3")
	m.Delete("missing")

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v, want [a b]", keys)
	}
	if m.String("a") != "3" {
		t.Errorf("a = %q, want 3", m.String("a"))
	}
}

func TestFromValue(t *testing.T) {
	type item struct {
		Title string `json:"title"`
		Price int64  `json:"price"`
	}
	v := struct {
		Total    int64   `json:"total_price"`
		Shipping bool    `json:"requires_shipping"`
		Missing  *string `json:"missing"`
		Items    []item  `json:"line_items"`
	}{
		Total:    3998,
		Shipping: true,
		Items:    []item{{Title: "Mug", Price: 1999}},
	}

	m, err := FromValue(v)
	if err != nil {
		t.Fatalf("FromValue: %v", err)
	}

	want := "line_items%5B0%5D%5Bprice%5D=1999&line_items%5B0%5D%5Btitle%5D=Mug&requires_shipping=1&total_price=3998"
	if got := Build(m); got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}

func TestFromJSON_RejectsNonObject(t *testing.T) {
	if _, err := FromJSON([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for array input")
	}
}

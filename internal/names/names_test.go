package names

import "testing"

func TestCatalogValidate(t *testing.T) {
	for _, tc := range []struct {
		name  Catalog
		valid bool
	}{
		{"acmeCo/orders", true},
		{"acmeCo/orders/derived", true},
		{"acmeCo", true},
		{"", false},
		{"/acmeCo", false},
		{"acmeCo/", false},
		{"acmeCo//orders", false},
		{"acme Co/orders", false},
	} {
		if err := tc.name.Validate(); (err == nil) != tc.valid {
			t.Errorf("Catalog(%q).Validate() error = %v, want valid=%v", tc.name, err, tc.valid)
		}
	}
}

func TestLongestMatching(t *testing.T) {
	prefixes := []Prefix{"acmeCo/", "acmeCo/orders/", "dogs/"}
	got, ok := LongestMatching(prefixes, "acmeCo/orders/123")
	if !ok || got != "acmeCo/orders/" {
		t.Fatalf("got %q, %v", got, ok)
	}
	if _, ok := LongestMatching(prefixes, "cats/noms"); ok {
		t.Fatalf("expected no match")
	}
}

func TestJSONPointerTail(t *testing.T) {
	if got := JSONPointer("/foo/bar~1baz").Tail(); got != "bar/baz" {
		t.Fatalf("got %q", got)
	}
	if !JSONPointer("/items/-").IsVariableLengthArraySuffix() {
		t.Fatalf("expected suffix match")
	}
}

package store

import "testing"

func TestValidKey(t *testing.T) {
	tests := map[string]bool{
		"0/0/0":                true,
		".zgroup":              true,
		"OME/METADATA.ome.xml": true,
		"":                     false,
		"/root":                false,
		"a/../b":               false,
		"a//b":                 false,
		`a\b`:                  false,
		"trailing/":            false,
	}
	for key, want := range tests {
		if got := ValidKey(key); got != want {
			t.Errorf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("0", "c", "1", "2"); got != "0/c/1/2" {
		t.Errorf("Join() = %q", got)
	}
	if got := Join("", "zarr.json"); got != "zarr.json" {
		t.Errorf("Join() = %q", got)
	}
}

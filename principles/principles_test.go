package principles

import (
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sample = `{
  "tone": ["Use casual language.", "Avoid therapy jargon."],
  "length": ["Keep replies short."],
  "empty": []
}`

func TestParseKeepsOrder(t *testing.T) {
	s, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Groups(); !reflect.DeepEqual(got, []string{"tone", "length", "empty"}) {
		t.Errorf("unexpected group order %v", got)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 guidelines, got %d", s.Len())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		`["not", "an", "object"]`,
		`{"group": "not a list"}`,
		``,
	}
	for _, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestFlatten(t *testing.T) {
	s, _ := Parse([]byte(sample))
	want := []string{"Use casual language.", "Avoid therapy jargon.", "Keep replies short."}
	if got := s.Flatten(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	empty, _ := Parse([]byte(`{}`))
	if got := empty.Flatten(); !reflect.DeepEqual(got, []string{DefaultGuideline}) {
		t.Errorf("empty set should flatten to the default guideline, got %v", got)
	}
}

func TestPick(t *testing.T) {
	s, _ := Parse([]byte(sample))
	rng := rand.New(rand.NewSource(7))

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		p := s.Pick(rng)
		if len(p.Guidelines) != 1 {
			t.Fatalf("Pick should return one guideline, got %v", p.Guidelines)
		}
		if p.Group == "empty" {
			t.Fatal("Pick chose from an empty group")
		}
		seen[p.Guidelines[0]] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected every guideline to be picked eventually, saw %v", seen)
	}

	empty, _ := Parse([]byte(`{}`))
	if p := empty.Pick(rng); p.Group != DefaultGroup || p.Guidelines[0] != DefaultGuideline {
		t.Errorf("empty set should pick the default, got %+v", p)
	}
}

func TestBundle(t *testing.T) {
	s, _ := Parse([]byte(sample))

	tests := []struct {
		name  string
		ids   []string
		group string
	}{
		{"all groups", nil, "tone"},
		{"requested", []string{"length"}, "length"},
		{"skip empty and unknown", []string{"missing", "empty", "length"}, "length"},
		{"nothing matches", []string{"missing"}, DefaultGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Bundle(tt.ids...); got.Group != tt.group {
				t.Errorf("expected group %s, got %s", tt.group, got.Group)
			}
		})
	}

	fallback := s.Bundle("missing")
	if len(fallback.Guidelines) != 1 || fallback.Guidelines[0] != DefaultBundleGuideline {
		t.Errorf("expected the bundle fallback guideline, got %v", fallback.Guidelines)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "principles.json")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 guidelines, got %d", s.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNew(t *testing.T) {
	s := New([]string{"b", "a", "zzz"}, map[string][]string{"a": {"x"}, "b": {"y"}})
	if got := s.Groups(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("unexpected groups %v", got)
	}
}

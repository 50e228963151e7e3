package persona

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const profilesJSON = `[
  {"name": "Alex", "age": 34, "description": "A 34-year-old accountant with work stress.",
   "coping_strategies": ["running", "avoidance"]},
  {"age": 21, "issue": "social anxiety", "personality": ["shy", "kind"]}
]`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeFile(t, profilesJSON)

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Name != "Alex" {
		t.Errorf("expected Alex, got %s", profiles[0].Name)
	}
	if profiles[1].Name != DefaultName {
		t.Errorf("expected default name, got %s", profiles[1].Name)
	}
}

func TestLoadProfileIndex(t *testing.T) {
	path := writeFile(t, profilesJSON)

	tests := []struct {
		name    string
		idx     int
		want    string
		wantErr bool
	}{
		{name: "first", idx: 0, want: "Alex"},
		{name: "second", idx: 1, want: DefaultName},
		{name: "out of range", idx: 2, wantErr: true},
		{name: "negative", idx: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadProfile(path, tt.idx)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.Name != tt.want {
				t.Errorf("expected %s, got %s", tt.want, p.Name)
			}
		})
	}
}

func TestLoadSingleObject(t *testing.T) {
	path := writeFile(t, `{"name": "Sam"}`)
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].Name != "Sam" {
		t.Errorf("unexpected profiles %+v", profiles)
	}
}

func TestLoadProfilesErrors(t *testing.T) {
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadProfiles(writeFile(t, `[1, 2]`)); err == nil {
		t.Error("expected error for non-object profiles")
	}
}

func TestProfileRoundTripKeepsUnknownFields(t *testing.T) {
	var p Profile
	if err := json.Unmarshal([]byte(`{"name":"Alex","hobby":"chess","nested":{"a":1}}`), &p); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"hobby":"chess"`, `"nested":{"a":1}`} {
		if !strings.Contains(string(out), want) {
			t.Errorf("marshalled profile missing %s: %s", want, out)
		}
	}
}

func TestProfileText(t *testing.T) {
	profiles, err := LoadProfiles(writeFile(t, profilesJSON))
	if err != nil {
		t.Fatal(err)
	}

	if got := profiles[0].Text(); got != "A 34-year-old accountant with work stress." {
		t.Errorf("description should be used verbatim, got %q", got)
	}

	got := profiles[1].Text()
	want := "age: 21\nissue: social anxiety\npersonality: shy; kind"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMentalState(t *testing.T) {
	m := NewMentalState()
	if m.Emotion != "Unknown" || m.TrustLevel != 0 {
		t.Errorf("unexpected initial state %+v", m)
	}

	tests := []struct {
		trust int
		want  int
	}{
		{-5, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{250, 100},
	}
	for _, tt := range tests {
		s := MentalState{Emotion: "Joy", TrustLevel: tt.trust}
		s.Clamp()
		if s.TrustLevel != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.trust, s.TrustLevel, tt.want)
		}
		if s.Beliefs != "Unknown" {
			t.Error("Clamp should fill empty fields")
		}
	}

	if got := m.Map()["Trust_Level"]; got != 0 {
		t.Errorf("unexpected map value %v", got)
	}
}

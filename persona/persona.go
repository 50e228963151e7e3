// Package persona loads simulated client profiles and tracks their mental
// state during a session.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultName is used for profiles without a "name" field.
const DefaultName = "Client"

// Profile is one character record. The source JSON is kept verbatim in
// Fields and written back unchanged into transcripts.
type Profile struct {
	Name        string
	Description string
	Fields      map[string]interface{}
}

// UnmarshalJSON decodes any JSON object into a profile.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("profile must be a JSON object: %w", err)
	}
	*p = FromMap(fields)
	return nil
}

// MarshalJSON writes the original fields.
func (p Profile) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return json.Marshal(map[string]interface{}{"name": p.Name})
	}
	return json.Marshal(p.Fields)
}

// FromMap builds a profile from decoded JSON.
func FromMap(fields map[string]interface{}) Profile {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	p := Profile{Name: DefaultName, Fields: fields}
	if name, ok := fields["name"].(string); ok && strings.TrimSpace(name) != "" {
		p.Name = name
	}
	if desc, ok := fields["description"].(string); ok {
		p.Description = desc
	}
	return p
}

// Get returns a top-level field.
func (p Profile) Get(key string) (interface{}, bool) {
	v, ok := p.Fields[key]
	return v, ok
}

// Text renders the profile for a prompt. The description is used when
// present; otherwise every field is listed as "key: value", sorted by key.
func (p Profile) Text() string {
	if p.Description != "" {
		return p.Description
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, formatValue(p.Fields[k]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// LoadProfiles reads a JSON array of profiles. A file holding a single
// object yields one profile.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
		}
		return []Profile{p}, nil
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles %s: %w", path, err)
	}
	return profiles, nil
}

// LoadProfile reads the profile at index idx.
func LoadProfile(path string, idx int) (Profile, error) {
	profiles, err := LoadProfiles(path)
	if err != nil {
		return Profile{}, err
	}
	if idx < 0 || idx >= len(profiles) {
		return Profile{}, fmt.Errorf("profile index %d out of range (%s has %d profiles)", idx, path, len(profiles))
	}
	return profiles[idx], nil
}

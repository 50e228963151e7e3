// Package principles loads the expert-authored guidelines used to critique
// simulated client responses.
package principles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// DefaultGuideline is used when a principle file holds no guidelines.
const DefaultGuideline = "Ensure the response is authentic, relevant, and aligned with the client's persona."

// DefaultBundleGuideline is the bundle returned when no requested group
// has guidelines.
const DefaultBundleGuideline = "Ensure the client's response remains consistent with the established persona and conversation context."

// DefaultGroup names the group that holds the default guidelines.
const DefaultGroup = "default"

// Set maps a group id to its guidelines. Group order follows the source file.
type Set struct {
	order  []string
	groups map[string][]string
}

// Principle is one selected guideline or bundle of guidelines.
type Principle struct {
	Group      string   `json:"group"`
	Guidelines []string `json:"guidelines"`
}

// New builds a set from groups in the given order.
func New(order []string, groups map[string][]string) *Set {
	s := &Set{groups: make(map[string][]string, len(groups))}
	for _, id := range order {
		if g, ok := groups[id]; ok {
			if _, dup := s.groups[id]; !dup {
				s.order = append(s.order, id)
			}
			s.groups[id] = append([]string(nil), g...)
		}
	}
	return s
}

// Load reads a JSON object of the form {"group": ["guideline", ...]}.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read principles %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse principles %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes principles JSON, keeping the group order of the document.
func Parse(data []byte) (*Set, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object of principle groups")
	}

	var order []string
	groups := make(map[string][]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var guidelines []string
		if err := dec.Decode(&guidelines); err != nil {
			return nil, fmt.Errorf("group %q: %w", id, err)
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = guidelines
	}
	return &Set{order: order, groups: groups}, nil
}

// Groups returns the group ids in file order.
func (s *Set) Groups() []string {
	return append([]string(nil), s.order...)
}

// Group returns the guidelines of one group.
func (s *Set) Group(id string) []string {
	return append([]string(nil), s.groups[id]...)
}

// Len returns the total number of guidelines.
func (s *Set) Len() int {
	n := 0
	for _, g := range s.groups {
		n += len(g)
	}
	return n
}

// Flatten returns every guideline in group order. An empty set yields the
// single DefaultGuideline.
func (s *Set) Flatten() []string {
	var out []string
	for _, id := range s.order {
		out = append(out, s.groups[id]...)
	}
	if len(out) == 0 {
		return []string{DefaultGuideline}
	}
	return out
}

// Pick returns one guideline chosen uniformly at random, with its group.
func (s *Set) Pick(rng *rand.Rand) Principle {
	type entry struct{ group, text string }
	var all []entry
	for _, id := range s.order {
		for _, g := range s.groups[id] {
			all = append(all, entry{id, g})
		}
	}
	if len(all) == 0 {
		return Principle{Group: DefaultGroup, Guidelines: []string{DefaultGuideline}}
	}
	var i int
	if rng != nil {
		i = rng.Intn(len(all))
	} else {
		i = rand.Intn(len(all))
	}
	return Principle{Group: all[i].group, Guidelines: []string{all[i].text}}
}

// Bundle returns the first non-empty group among ids, or among all groups
// when ids is empty. Unknown ids are skipped. When nothing matches the
// default group with DefaultBundleGuideline is returned.
func (s *Set) Bundle(ids ...string) Principle {
	candidates := ids
	if len(candidates) == 0 {
		candidates = s.order
	}
	for _, id := range candidates {
		if g := s.groups[id]; len(g) > 0 {
			return Principle{Group: id, Guidelines: append([]string(nil), g...)}
		}
	}
	return Principle{Group: DefaultGroup, Guidelines: []string{DefaultBundleGuideline}}
}

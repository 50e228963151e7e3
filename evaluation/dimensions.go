package evaluation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownDimension is returned when a configured dimension is not
// registered.
var ErrUnknownDimension = errors.New("unknown evaluation dimension")

// Aspect is one rated facet of a dimension.
type Aspect struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Guidelines  string `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
}

// Dimension groups the aspects a rater scores together, plus an overall
// score.
type Dimension struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Aspects     []Aspect `json:"aspects" yaml:"aspects"`
	// Target is the role the dimension judges, "client" or "therapist".
	Target string `json:"target" yaml:"target"`
}

// Consistency rates whether a simulated client stays true to its profile
// and to what it said earlier.
var Consistency = Dimension{
	Name:        "consistency",
	Description: "Evaluates whether the client's responses are consistent",
	Target:      "client",
	Aspects: []Aspect{
		{
			Name:        "profile_factual",
			Description: "Factual consistency with the character profile",
			Guidelines:  "Check if stated facts (age, job, family) match the profile",
		},
		{
			Name:        "conv_factual",
			Description: "Factual consistency within the conversation history",
			Guidelines:  "Check for self-contradictions across turns",
		},
		{
			Name:        "behavioral",
			Description: "Behavioral consistency between profile and responses",
			Guidelines:  "Check if actions/reactions match personality traits",
		},
		{
			Name:        "emotional",
			Description: "Emotional consistency between profile and responses",
			Guidelines:  "Check if emotional expressions match the profile's affect",
		},
	},
}

var (
	dimensionsMu sync.RWMutex
	dimensions   = map[string]Dimension{Consistency.Name: Consistency}
)

// RegisterDimension adds or replaces a dimension.
func RegisterDimension(d Dimension) error {
	if d.Name == "" || len(d.Aspects) == 0 {
		return fmt.Errorf("dimension needs a name and at least one aspect")
	}
	dimensionsMu.Lock()
	defer dimensionsMu.Unlock()
	dimensions[d.Name] = d
	return nil
}

// DimensionNames lists the registered dimensions.
func DimensionNames() []string {
	dimensionsMu.RLock()
	defer dimensionsMu.RUnlock()
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetDimensions resolves names in order.
func GetDimensions(names []string) ([]Dimension, error) {
	dimensionsMu.RLock()
	defer dimensionsMu.RUnlock()
	out := make([]Dimension, 0, len(names))
	for _, name := range names {
		d, ok := dimensions[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, name)
		}
		out = append(out, d)
	}
	return out, nil
}

// Prompt describes the dimension to the rater.
func (d Dimension) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n%s\n\n", strings.ToUpper(d.Name[:1])+d.Name[1:], d.Description)
	b.WriteString("Evaluate the following aspects:")
	for _, a := range d.Aspects {
		fmt.Fprintf(&b, "\n- **%s**: %s", a.Name, a.Description)
		if a.Guidelines != "" {
			fmt.Fprintf(&b, "\n  - Guidelines: %s", a.Guidelines)
		}
	}
	return b.String()
}

// Format tells the rater the JSON shape to answer with.
func (d Dimension) Format() string {
	var b strings.Builder
	b.WriteString("Respond with a JSON object with these keys:\n")
	for _, a := range d.Aspects {
		fmt.Fprintf(&b, "  %q: {\"score\": <integer 1-10>, \"comments\": \"<reasoning for the score>\"},\n", a.Name)
	}
	b.WriteString("  \"overall_score\": <integer 1-10, overall score for this dimension>")
	return b.String()
}

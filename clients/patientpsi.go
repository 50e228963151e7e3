package clients

import (
	"fmt"
	"sort"
	"strings"

	"github.com/patienthub/patienthub-go/agent"
)

// DefaultPatientType is the conversational style used when none is set.
const DefaultPatientType = "upset"

// PatientTypes are the conversational styles a patientPsi client can take.
var PatientTypes = map[string]bool{
	"plain":    true,
	"upset":    true,
	"verbose":  true,
	"reserved": true,
	"tangent":  true,
	"pleasing": true,
}

// newPatientPsiFromConfig builds a Basic client whose system prompt is the
// character's cognitive profile plus a conversational style.
func newPatientPsiFromConfig(cfg Config, deps Deps) (agent.Client, error) {
	patientType := cfg.PatientType
	if patientType == "" {
		patientType = DefaultPatientType
	}
	if !PatientTypes[patientType] {
		types := make([]string, 0, len(PatientTypes))
		for t := range PatientTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		return nil, fmt.Errorf("unknown patient_type %q (want one of %s)", patientType, strings.Join(types, ", "))
	}

	profile, err := loadProfile(cfg, deps)
	if err != nil {
		return nil, err
	}
	lib, err := loadPrompts(cfg, "client/patientpsi")
	if err != nil {
		return nil, err
	}
	style, err := lib.Render("patient_type", map[string]interface{}{"patient_type": patientType})
	if err != nil {
		return nil, err
	}

	return NewBasic(BasicConfig{
		AgentType:  TypePatientPsi,
		Profile:    profile,
		Model:      deps.LLM,
		Prompts:    lib,
		Extra:      map[string]interface{}{"patient_type": style},
		MaxHistory: cfg.MaxHistory,
		Metrics:    deps.Metrics,
		Logger:     deps.logger(),
	})
}

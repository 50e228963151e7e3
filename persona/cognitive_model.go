package persona

import (
	"fmt"
	"math/rand"
)

// Bounds of every cognitive model score.
const (
	MinCognitiveScore = 1
	MaxCognitiveScore = 10
)

// CognitiveModel is a client's motivation to change, scored 1-10 on four
// axes. It is updated after every turn by clients that track it.
type CognitiveModel struct {
	Control   int `json:"patient_control"`
	Efficacy  int `json:"patient_efficacy"`
	Awareness int `json:"patient_awareness"`
	Reward    int `json:"patient_reward"`
}

// RandomCognitiveModel draws every score uniformly from 1-10.
func RandomCognitiveModel(rng *rand.Rand) CognitiveModel {
	draw := func() int {
		if rng == nil {
			return MinCognitiveScore + rand.Intn(MaxCognitiveScore)
		}
		return MinCognitiveScore + rng.Intn(MaxCognitiveScore)
	}
	return CognitiveModel{Control: draw(), Efficacy: draw(), Awareness: draw(), Reward: draw()}
}

// CognitiveModelFromMap reads the scores of a decoded JSON object, as found
// in profiles and saved client state. ok is false unless all four keys hold
// numbers.
func CognitiveModelFromMap(m map[string]interface{}) (CognitiveModel, bool) {
	var cm CognitiveModel
	for key, dst := range map[string]*int{
		"patient_control":   &cm.Control,
		"patient_efficacy":  &cm.Efficacy,
		"patient_awareness": &cm.Awareness,
		"patient_reward":    &cm.Reward,
	} {
		switch v := m[key].(type) {
		case float64:
			*dst = int(v)
		case int:
			*dst = v
		default:
			return CognitiveModel{}, false
		}
	}
	cm.Clamp()
	return cm, true
}

// Clamp bounds every score to 1-10.
func (c *CognitiveModel) Clamp() {
	for _, v := range []*int{&c.Control, &c.Efficacy, &c.Awareness, &c.Reward} {
		if *v < MinCognitiveScore {
			*v = MinCognitiveScore
		}
		if *v > MaxCognitiveScore {
			*v = MaxCognitiveScore
		}
	}
}

// Map returns the scores keyed by their JSON names.
func (c CognitiveModel) Map() map[string]interface{} {
	return map[string]interface{}{
		"patient_control":   c.Control,
		"patient_efficacy":  c.Efficacy,
		"patient_awareness": c.Awareness,
		"patient_reward":    c.Reward,
	}
}

func (c CognitiveModel) String() string {
	return fmt.Sprintf("control=%d efficacy=%d awareness=%d reward=%d", c.Control, c.Efficacy, c.Awareness, c.Reward)
}

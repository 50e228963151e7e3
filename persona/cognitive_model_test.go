package persona

import (
	"math/rand"
	"testing"
)

func TestRandomCognitiveModelInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		cm := RandomCognitiveModel(rng)
		for _, v := range []int{cm.Control, cm.Efficacy, cm.Awareness, cm.Reward} {
			if v < MinCognitiveScore || v > MaxCognitiveScore {
				t.Fatalf("score out of range: %+v", cm)
			}
		}
	}
}

func TestCognitiveModelClamp(t *testing.T) {
	cm := CognitiveModel{Control: 0, Efficacy: 11, Awareness: -4, Reward: 7}
	cm.Clamp()
	want := CognitiveModel{Control: 1, Efficacy: 10, Awareness: 1, Reward: 7}
	if cm != want {
		t.Errorf("got %+v, want %+v", cm, want)
	}
}

func TestCognitiveModelFromMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]interface{}
		want CognitiveModel
		ok   bool
	}{
		{
			name: "decoded json",
			in:   map[string]interface{}{"patient_control": 3.0, "patient_efficacy": 4.0, "patient_awareness": 12.0, "patient_reward": 2.0},
			want: CognitiveModel{Control: 3, Efficacy: 4, Awareness: 10, Reward: 2},
			ok:   true,
		},
		{
			name: "from Map",
			in:   CognitiveModel{Control: 5, Efficacy: 6, Awareness: 7, Reward: 8}.Map(),
			want: CognitiveModel{Control: 5, Efficacy: 6, Awareness: 7, Reward: 8},
			ok:   true,
		},
		{name: "missing key", in: map[string]interface{}{"patient_control": 3.0}},
		{name: "nil", in: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CognitiveModelFromMap(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

package evaluation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Severity grades how far a candidate fell below its baseline.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"    // under 10% lower
	SeverityModerate Severity = "moderate" // 10-20% lower
	SeverityMajor    Severity = "major"    // 20-50% lower
	SeverityCritical Severity = "critical" // over 50% lower
)

// DefaultSignificance is the p-value below which a difference counts.
const DefaultSignificance = 0.05

// Comparison contrasts the scores of one aspect between a baseline run and
// a candidate run, for example a plain client against a critiqued one.
type Comparison struct {
	Dimension     string  `json:"dimension"`
	Aspect        string  `json:"aspect"`
	BaselineN     int     `json:"baseline_n"`
	CandidateN    int     `json:"candidate_n"`
	BaselineMean  float64 `json:"baseline_mean"`
	CandidateMean float64 `json:"candidate_mean"`
	// ChangePercent is the candidate's change relative to the baseline.
	ChangePercent float64 `json:"change_percent"`
	// EffectSize is Cohen's d.
	EffectSize  float64  `json:"effect_size"`
	PValue      float64  `json:"p_value"`
	Significant bool     `json:"significant"`
	Severity    Severity `json:"severity"`
}

// Regressed reports a significant drop.
func (c Comparison) Regressed() bool {
	return c.Significant && c.CandidateMean < c.BaselineMean
}

// Compare runs Welch's t-test per aspect present in both runs. alpha <= 0
// uses DefaultSignificance.
func Compare(baseline, candidate []*Result, alpha float64) []Comparison {
	if alpha <= 0 {
		alpha = DefaultSignificance
	}
	base := collectScores(baseline)
	cand := collectScores(candidate)

	var out []Comparison
	for k, xs := range base {
		ys, ok := cand[k]
		if !ok {
			continue
		}
		c := Comparison{
			Dimension:     k.dimension,
			Aspect:        k.aspect,
			BaselineN:     len(xs),
			CandidateN:    len(ys),
			BaselineMean:  stat.Mean(xs, nil),
			CandidateMean: stat.Mean(ys, nil),
		}
		if c.BaselineMean != 0 {
			c.ChangePercent = (c.CandidateMean - c.BaselineMean) / c.BaselineMean * 100
		}
		c.PValue = welchTTest(xs, ys)
		c.Significant = c.PValue < alpha
		c.EffectSize = cohensD(xs, ys)
		c.Severity = severity(-c.ChangePercent / 100)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return scoreKey{out[i].Dimension, out[i].Aspect}.less(scoreKey{out[j].Dimension, out[j].Aspect})
	})
	return out
}

// welchTTest returns the two-sided p-value for a difference in means. Too
// few samples or zero variance in both yields 1 unless the means differ.
func welchTTest(xs, ys []float64) float64 {
	n1, n2 := float64(len(xs)), float64(len(ys))
	if n1 < 2 || n2 < 2 {
		return 1
	}
	m1, v1 := stat.MeanVariance(xs, nil)
	m2, v2 := stat.MeanVariance(ys, nil)
	a, b := v1/n1, v2/n2
	se := math.Sqrt(a + b)
	if se == 0 {
		if m1 == m2 {
			return 1
		}
		return 0
	}
	t := (m2 - m1) / se
	df := (a + b) * (a + b) / (a*a/(n1-1) + b*b/(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

func cohensD(xs, ys []float64) float64 {
	if len(xs) < 2 || len(ys) < 2 {
		return 0
	}
	pooled := math.Sqrt((stat.Variance(xs, nil) + stat.Variance(ys, nil)) / 2)
	if pooled == 0 {
		return 0
	}
	return (stat.Mean(ys, nil) - stat.Mean(xs, nil)) / pooled
}

// severity grades a fractional drop; gains are SeverityNone.
func severity(drop float64) Severity {
	switch {
	case drop <= 0:
		return SeverityNone
	case drop < 0.10:
		return SeverityMinor
	case drop < 0.20:
		return SeverityModerate
	case drop < 0.50:
		return SeverityMajor
	default:
		return SeverityCritical
	}
}

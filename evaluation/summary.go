package evaluation

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OverallAspect names the overall score in a Stat.
const OverallAspect = "overall"

// Stat aggregates the scores of one aspect across ratings.
type Stat struct {
	Dimension string  `json:"dimension"`
	Aspect    string  `json:"aspect"`
	N         int     `json:"n"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// Summarize aggregates every rating in results per dimension and aspect,
// ordered by dimension then aspect with the overall score last.
func Summarize(results ...*Result) []Stat {
	samples := collectScores(results)
	out := make([]Stat, 0, len(samples))
	for k, xs := range samples {
		s := Stat{
			Dimension: k.dimension,
			Aspect:    k.aspect,
			N:         len(xs),
			Mean:      stat.Mean(xs, nil),
			Min:       floats.Min(xs),
			Max:       floats.Max(xs),
		}
		if len(xs) > 1 {
			s.StdDev = stat.StdDev(xs, nil)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return scoreKey{out[i].Dimension, out[i].Aspect}.less(scoreKey{out[j].Dimension, out[j].Aspect})
	})
	return out
}

type scoreKey struct{ dimension, aspect string }

func (k scoreKey) less(o scoreKey) bool {
	if k.dimension != o.dimension {
		return k.dimension < o.dimension
	}
	if (k.aspect == OverallAspect) != (o.aspect == OverallAspect) {
		return o.aspect == OverallAspect
	}
	return k.aspect < o.aspect
}

// collectScores gathers every score in results by dimension and aspect.
func collectScores(results []*Result) map[scoreKey][]float64 {
	samples := make(map[scoreKey][]float64)
	for _, res := range results {
		if res == nil {
			continue
		}
		for dim, ratings := range res.Ratings {
			for _, r := range ratings {
				for aspect, a := range r.Aspects {
					k := scoreKey{dim, aspect}
					samples[k] = append(samples[k], float64(a.Score))
				}
				k := scoreKey{dim, OverallAspect}
				samples[k] = append(samples[k], float64(r.OverallScore))
			}
		}
	}
	return samples
}

package evaluation

import "testing"

func overallRuns(scores ...int) []*Result {
	out := make([]*Result, 0, len(scores))
	for _, s := range scores {
		r := &Rating{Aspects: map[string]AspectRating{"behavioral": {Score: s}}, OverallScore: s}
		out = append(out, &Result{Ratings: map[string]map[string]*Rating{"consistency": {SessionKey: r}}})
	}
	return out
}

func TestCompare(t *testing.T) {
	baseline := overallRuns(8, 9, 8, 9, 8, 9)
	candidate := overallRuns(4, 5, 4, 5, 4, 5)

	cmp := Compare(baseline, candidate, 0)
	if len(cmp) != 2 {
		t.Fatalf("expected 2 comparisons, got %d", len(cmp))
	}
	overall := cmp[1]
	if overall.Aspect != OverallAspect {
		t.Fatalf("overall should sort last, got %q", overall.Aspect)
	}
	if overall.BaselineMean != 8.5 || overall.CandidateMean != 4.5 {
		t.Errorf("unexpected means %v / %v", overall.BaselineMean, overall.CandidateMean)
	}
	if !overall.Significant || !overall.Regressed() {
		t.Errorf("a four point drop should be a significant regression, p=%v", overall.PValue)
	}
	if overall.Severity != SeverityMajor {
		t.Errorf("expected major severity for a 47%% drop, got %s", overall.Severity)
	}
	if overall.EffectSize >= 0 {
		t.Errorf("effect size should be negative, got %v", overall.EffectSize)
	}
}

func TestCompareNoDifference(t *testing.T) {
	runs := overallRuns(6, 7, 8)
	for _, c := range Compare(runs, overallRuns(6, 7, 8), 0.05) {
		if c.Significant || c.Severity != SeverityNone || c.PValue < 0.99 {
			t.Errorf("identical runs should not differ: %+v", c)
		}
	}
}

func TestCompareSkipsUnmatchedAndSmallSamples(t *testing.T) {
	other := []*Result{{Ratings: map[string]map[string]*Rating{
		"empathy": {SessionKey: {Aspects: map[string]AspectRating{}, OverallScore: 3}},
	}}}
	if cmp := Compare(overallRuns(8), other, 0); len(cmp) != 0 {
		t.Errorf("dimensions missing from either run should be skipped, got %+v", cmp)
	}

	cmp := Compare(overallRuns(9), overallRuns(2), 0)
	for _, c := range cmp {
		if c.PValue != 1 || c.Significant {
			t.Errorf("single samples cannot be significant: %+v", c)
		}
		if c.Severity != SeverityCritical {
			t.Errorf("expected critical severity, got %s", c.Severity)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		drop float64
		want Severity
	}{
		{-0.3, SeverityNone},
		{0, SeverityNone},
		{0.05, SeverityMinor},
		{0.15, SeverityModerate},
		{0.3, SeverityMajor},
		{0.6, SeverityCritical},
	}
	for _, tt := range tests {
		if got := severity(tt.drop); got != tt.want {
			t.Errorf("severity(%v) = %s, want %s", tt.drop, got, tt.want)
		}
	}
}

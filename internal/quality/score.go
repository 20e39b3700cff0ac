package quality

import "math"

// Penalty caps and rates for Score.
const (
	missingRate   = 0.1
	missingCap    = 20.0
	duplicateRate = 0.1
	duplicateCap  = 15.0
	outlierFree   = 5.0 // percent tolerated before penalizing
	outlierRate   = 0.5
	outlierCap    = 10.0
	ruleRate      = 0.01
	ruleCap       = 15.0
)

// Score computes the 0..100 quality score:
//
//	100 - min(20, 0.1*missing cells)
//	    - min(15, 0.1*duplicate rows)
//	    - min(10, 0.5*(outlier% - 5))   when outlier% > 5
//	    - min(15, 0.01*rule removals)
//
// floored at 0. Invalid keys and invalid dates do not affect the score.
func Score(r Report) float64 {
	score := 100.0
	score -= math.Min(missingCap, missingRate*float64(r.TotalMissing()))
	score -= math.Min(duplicateCap, duplicateRate*float64(r.TotalDuplicates()))
	if r.Outliers.Percentage > outlierFree {
		score -= math.Min(outlierCap, outlierRate*(r.Outliers.Percentage-outlierFree))
	}
	score -= math.Min(ruleCap, ruleRate*float64(r.BusinessRules.Total()))
	return math.Max(0, score)
}

// Package scorer implements the deterministic rule-based risk function. It
// is the default scoring path and the permanent fallback when no
// personalized model is active.
package scorer

import "github.com/episense/episense/pkg/model"

// Score sums the capped factor contributions and clips the result to [0,1].
// Fewer factors simply mean a lower magnitude; there is no error path.
func Score(factors []model.RiskFactor) float64 {
	sum := 0.0
	for _, f := range factors {
		sum += f.Contribution
	}
	if sum > 1 {
		return 1
	}
	if sum < 0 {
		return 0
	}
	return sum
}

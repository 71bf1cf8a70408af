package audit

import "log/slog"

// CostChecker evaluates agent or actor cost accumulated from the audit
// stream against a configured advisory threshold. Cost caps are never
// enforced in-line (spec.md §5: "Cost caps are advisory and accounted
// post-hoc from the audit stream") — callers typically run Check on a
// cost total summed from audit entries, surfacing the result as an alert or a
// dashboard figure rather than a blocked decision.
type CostChecker struct {
	logger *slog.Logger
}

// NewCostChecker creates a CostChecker.
func NewCostChecker(logger *slog.Logger) *CostChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CostChecker{logger: logger.With("component", "audit.CostChecker")}
}

// Check returns true if accumulatedCost has exceeded threshold. A
// threshold <= 0 means the cap is disabled and Check always returns
// false.
func (c *CostChecker) Check(accumulatedCost, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	exceeded := accumulatedCost > threshold
	if exceeded {
		c.logger.Warn("advisory cost cap exceeded",
			"accumulated_cost", accumulatedCost,
			"threshold", threshold,
		)
	}
	return exceeded
}

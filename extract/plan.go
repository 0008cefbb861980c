// Package extract chooses and runs the extraction strategy for a product
// page: structured selector parsing when the roaster's markup is known,
// model-assisted extraction behind an explicit progressive-fallback attempt
// plan otherwise.
package extract

import "beanscout/config"

// Tier identifies which model an attempt uses.
type Tier string

const (
	TierLite Tier = "lite"
	TierFull Tier = "full"
)

// Attempt is one step of an extraction plan: which model tier to call and
// whether to attach the page screenshot.
type Attempt struct {
	Tier       Tier
	Screenshot bool
}

// StandardPlan is the cost-optimized sequence for simple static sites: the
// lite model twice, then the full model, and a screenshot only on the last
// attempt.
func StandardPlan() []Attempt {
	return []Attempt{
		{Tier: TierLite},
		{Tier: TierLite},
		{Tier: TierFull},
		{Tier: TierFull, Screenshot: true},
	}
}

// OptimizedPlan is for visually complex or JavaScript-heavy sites where the
// lite model systematically fails: three identical full-model attempts with a
// screenshot from the start, differing only in being independent tries.
func OptimizedPlan() []Attempt {
	return []Attempt{
		{Tier: TierFull, Screenshot: true},
		{Tier: TierFull, Screenshot: true},
		{Tier: TierFull, Screenshot: true},
	}
}

// PlanFor maps a configured AI mode to its attempt plan.
func PlanFor(mode string) []Attempt {
	if mode == config.AIModeOptimized {
		return OptimizedPlan()
	}
	return StandardPlan()
}

package router

import (
	"github.com/blueberrycongee/glmrouter/internal/config"
)

// peekAdmissionHold implements spec.md §4.10: a read-only replay that
// never mutates cooldown, penalty, or in-flight state. It tells the
// caller whether admitting this request right now would find every
// candidate (including downgrade targets, if allowed) cooled.
func peekAdmissionHold(cfg *config.RoutingConfig, overrides *overrideStore, cooldowns *cooldownLedger, reqCtx RequestContext, fv FeatureVector) *HoldInfo {
	if !reqCtx.SkipOverrides {
		if reqCtx.Override != "" {
			return nil
		}
		if _, ok := overrides.get(fv.Model); ok {
			return nil
		}
	}

	cls := classify(cfg, fv)
	if !cls.matched {
		return nil
	}

	tiersToCheck := []config.Tier{cls.Tier}
	if cfg.Failover.AllowTierDowngrade {
		for _, t := range cfg.Failover.DowngradeOrder {
			if t != cls.Tier {
				tiersToCheck = append(tiersToCheck, t)
			}
		}
	}

	var candidates []string
	minCooldown := int64(-1)
	anyAvailable := false

	for _, tier := range tiersToCheck {
		tc, ok := cfg.Tiers[tier]
		if !ok {
			continue
		}
		for _, model := range tc.Models {
			if _, attempted := reqCtx.AttemptedModels[model]; attempted {
				continue
			}
			candidates = append(candidates, model)
			remaining := cooldowns.remaining(model)
			if remaining == 0 {
				anyAvailable = true
			}
			if minCooldown < 0 || remaining < minCooldown {
				minCooldown = remaining
			}
		}
	}

	if anyAvailable || len(candidates) == 0 {
		return nil
	}
	if minCooldown < 0 {
		minCooldown = 0
	}

	return &HoldInfo{
		Tier:          cls.Tier,
		Candidates:    candidates,
		MinCooldownMs: minCooldown,
		AllCooled:     true,
	}
}

// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the static tier x dimension limit
// table, the Unlimited sentinel, and the data-driven plan override table
// that replaces hard-coded special-user branches.
package domain

import "strings"

// PlanTier is the subscription level determining per-dimension limits.
type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPlus PlanTier = "plus"
	PlanPro  PlanTier = "pro"
)

// Unlimited marks a dimension with no plan limit.
const Unlimited = -1

// planLimits maps tier x dimension to the allowance per window.
// Loaded once, never mutated at runtime.
var planLimits = map[PlanTier]map[Dimension]int{
	PlanFree: {
		DimensionTextMessage:      30,
		DimensionAreaMessage:      5,
		DimensionStandardVocalize: 3,
		DimensionProVocalize:      0, // pro-gated, never reachable on free
	},
	PlanPlus: {
		DimensionTextMessage:      250,
		DimensionAreaMessage:      50,
		DimensionStandardVocalize: 30,
		DimensionProVocalize:      10,
	},
	PlanPro: {
		DimensionTextMessage:      Unlimited,
		DimensionAreaMessage:      200,
		DimensionStandardVocalize: 120,
		DimensionProVocalize:      60,
	},
}

// Valid reports whether t is a known plan tier.
func (t PlanTier) Valid() bool {
	_, ok := planLimits[t]
	return ok
}

// IsFree reports whether the tier is the free plan.
func (t PlanTier) IsFree() bool { return t == PlanFree }

// ParsePlanTier converts a wire string into a PlanTier.
func ParsePlanTier(s string) (PlanTier, error) {
	t := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", Errorf(EINVALID, "plan.parse", "unknown plan tier %q", s)
	}
	return t, nil
}

// PlanLimit returns the per-window allowance for a tier and dimension.
// Unknown tiers fall back to the free tier so a stale or malformed plan
// value never grants more than the lowest allowance.
func PlanLimit(tier PlanTier, dim Dimension) int {
	limits, ok := planLimits[tier]
	if !ok {
		limits = planLimits[PlanFree]
	}
	return limits[dim]
}

// UpsellHint returns the purchase nudge for denial messages, keyed to the
// caller's current tier.
func UpsellHint(tier PlanTier) string {
	switch tier {
	case PlanFree:
		return "Upgrade to Plus for a bigger allowance."
	case PlanPlus:
		return "Upgrade to Pro for a bigger allowance."
	default:
		return "Buy message credits to keep going."
	}
}

// DenialMessage builds the user-facing message for an exhausted allowance:
// the window name, the dimension's display name, and a tier-keyed upsell
// hint.
func DenialMessage(dim Dimension, tier PlanTier) string {
	return "You have used all your " + dim.Cadence().WindowName() + " " +
		dim.DisplayName() + " allowance. " + UpsellHint(tier)
}

// ProGateMessage builds the user-facing message for a pro-gated dimension
// requested on the free tier. Purchased credits do not lift the gate.
func ProGateMessage(dim Dimension) string {
	return dim.DisplayName() + " requires a paid plan."
}

// OverrideTable maps user IDs to a forced plan tier. It replaces the
// hard-coded special-user identifiers from the legacy subscription logic
// with data that can be loaded from configuration and audited.
type OverrideTable map[string]PlanTier

// Resolve returns the override tier for a user, if one exists.
func (t OverrideTable) Resolve(userID string) (PlanTier, bool) {
	tier, ok := t[userID]
	return tier, ok
}

// ParseOverrideTable parses "userID=tier" comma-separated pairs, as loaded
// from the PLAN_OVERRIDES environment variable. Malformed pairs are skipped.
func ParseOverrideTable(raw string) OverrideTable {
	table := OverrideTable{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		tier, err := ParsePlanTier(kv[1])
		if err != nil {
			continue
		}
		table[strings.TrimSpace(kv[0])] = tier
	}
	return table
}

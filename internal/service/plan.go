// Package service contains the business logic layer.
//
// This file defines plan resolution: how a user ID maps to a subscription
// tier. The quota gate only ever sees the PlanResolver interface so the
// billing system behind it can change without touching enforcement.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/studyhallhq/studyhall/internal/domain"
)

// PlanResolver reports a user's current subscription tier.
type PlanResolver interface {
	CurrentPlan(ctx context.Context, userID uuid.UUID) (domain.PlanTier, error)
}

// StaticPlanResolver resolves every user to a configured default tier, with
// a data-driven override table for specific accounts (internal testers,
// partner schools). Overrides are loaded from configuration at startup.
type StaticPlanResolver struct {
	defaultTier domain.PlanTier
	overrides   domain.OverrideTable
}

// NewStaticPlanResolver creates a resolver with the given default tier and
// override table. An invalid default falls back to the free tier.
func NewStaticPlanResolver(defaultTier domain.PlanTier, overrides domain.OverrideTable) *StaticPlanResolver {
	if !defaultTier.Valid() {
		defaultTier = domain.PlanFree
	}
	return &StaticPlanResolver{
		defaultTier: defaultTier,
		overrides:   overrides,
	}
}

// CurrentPlan returns the override tier when one exists, otherwise the
// default.
func (r *StaticPlanResolver) CurrentPlan(_ context.Context, userID uuid.UUID) (domain.PlanTier, error) {
	if tier, ok := r.overrides.Resolve(userID.String()); ok {
		return tier, nil
	}
	return r.defaultTier, nil
}

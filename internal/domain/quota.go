// Package domain contains core business types and interfaces.
//
// This file defines quota counter and grant decision types used by the
// quota gate.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaCounter tracks consumption of one dimension within the current
// window for one user. Counters are created lazily on first access and
// never deleted; a reset zeroes the count and advances LastReset.
type QuotaCounter struct {
	UserID    uuid.UUID
	Dimension Dimension
	Count     int
	LastReset time.Time
}

// GrantSource identifies which allowance backed a grant.
type GrantSource string

const (
	GrantSourcePlan   GrantSource = "plan"
	GrantSourceCredit GrantSource = "credit"
)

// Decision is the outcome of a quota check. A denial is a normal result,
// not an error: only infrastructure failures surface as errors.
type Decision struct {
	Allowed bool
	Source  GrantSource // set when Allowed
	Reason  string      // human-readable denial message, set when !Allowed

	// Remaining is the plan allowance left in the current window after
	// this decision, or Unlimited. Informational only.
	Remaining int
}

// Allowed constructs a granting decision.
func Grant(source GrantSource, remaining int) Decision {
	return Decision{Allowed: true, Source: source, Remaining: remaining}
}

// Deny constructs a denying decision with a user-facing reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// DimensionUsage is the read-only projection of one dimension's state for
// display purposes.
type DimensionUsage struct {
	Used             int       `json:"used"`
	Limit            int       `json:"limit"` // -1 means unlimited
	PurchasedBalance int       `json:"purchased_balance"`
	ResetsAt         time.Time `json:"resets_at"`
}

// UsageSnapshot maps every dimension to its current usage projection.
type UsageSnapshot map[Dimension]DimensionUsage

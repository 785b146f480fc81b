// Package domain contains core business types and interfaces.
//
// This file defines the purchased-credit ledger types and the pure parsing
// of payment-record metadata into credit deltas.
package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// LedgerBalance is the purchased-credit balance for one user and dimension.
// Balances only move via reconciliation or the admin credit path (up) and
// the quota gate's debit fallback (down).
type LedgerBalance struct {
	UserID    uuid.UUID
	Dimension Dimension
	Balance   int
}

// PaymentRecord is an externally produced, immutable purchase event.
// Metadata is a flat string map carrying per-dimension credit amounts under
// the dimensions' credit keys; unknown keys are ignored.
type PaymentRecord struct {
	ID       string
	Metadata map[string]string
}

// ParseCreditDeltas extracts non-negative per-dimension credit amounts from
// payment-record metadata. Unparseable or negative values count as zero for
// that dimension so one malformed field cannot block crediting the others.
// Dimensions with a zero delta are omitted from the result.
func ParseCreditDeltas(metadata map[string]string) map[Dimension]int {
	deltas := make(map[Dimension]int)
	for key, raw := range metadata {
		dim, ok := DimensionForCreditKey(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			continue
		}
		deltas[dim] = n
	}
	return deltas
}

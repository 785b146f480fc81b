// Package domain contains core business types and interfaces.
//
// This file defines the gated action dimensions. Every user-facing action
// the quota gate protects is one Dimension with a reset cadence, an optional
// pro-gating flag, and a payment-metadata key used when purchased credits
// are parsed out of payment records.
package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Dimension identifies one distinct gated action type.
type Dimension string

const (
	DimensionTextMessage      Dimension = "text_message"
	DimensionAreaMessage      Dimension = "area_message"
	DimensionStandardVocalize Dimension = "standard_vocalize"
	DimensionProVocalize      Dimension = "pro_vocalize"
)

// Cadence is the reset period for a dimension's counter.
type Cadence string

const (
	// CadenceDaily resets on the calendar-day boundary (UTC), not a rolling 24h window.
	CadenceDaily Cadence = "daily"
	// CadenceWeekly resets after 7 full days since the last reset (rolling).
	CadenceWeekly Cadence = "weekly"
	// CadenceThirtyDay resets after 30 full days since the last reset (rolling).
	CadenceThirtyDay Cadence = "30d"
)

// dimensionInfo holds the static attributes of a dimension.
type dimensionInfo struct {
	cadence   Cadence
	proGated  bool
	creditKey string // key under which payment records carry purchased credits
}

var dimensionTable = map[Dimension]dimensionInfo{
	DimensionTextMessage:      {cadence: CadenceDaily, creditKey: "text"},
	DimensionAreaMessage:      {cadence: CadenceWeekly, creditKey: "area"},
	DimensionStandardVocalize: {cadence: CadenceThirtyDay, creditKey: "vocalize"},
	DimensionProVocalize:      {cadence: CadenceThirtyDay, proGated: true, creditKey: "pro_vocalize"},
}

// AllDimensions returns every known dimension in a stable order.
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionTextMessage,
		DimensionAreaMessage,
		DimensionStandardVocalize,
		DimensionProVocalize,
	}
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	_, ok := dimensionTable[d]
	return ok
}

// Cadence returns the reset cadence for the dimension.
func (d Dimension) Cadence() Cadence {
	return dimensionTable[d].cadence
}

// ProGated reports whether the dimension requires a paid tier regardless of
// any purchased credit balance.
func (d Dimension) ProGated() bool {
	return dimensionTable[d].proGated
}

// CreditKey returns the payment-record metadata key carrying purchased
// credits for this dimension.
func (d Dimension) CreditKey() string {
	return dimensionTable[d].creditKey
}

var titleCaser = cases.Title(language.English)

// DisplayName returns a human-readable name for user-facing messages,
// e.g. "Text Message" for text_message.
func (d Dimension) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(string(d), "_", " "))
}

// ParseDimension converts a wire string into a Dimension.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", Errorf(EINVALID, "dimension.parse", "unknown dimension %q", s)
	}
	return d, nil
}

// DimensionForCreditKey maps a payment-record metadata key back to its
// dimension. Unknown keys return false and are ignored by reconciliation.
func DimensionForCreditKey(key string) (Dimension, bool) {
	for d, info := range dimensionTable {
		if info.creditKey == key {
			return d, true
		}
	}
	return "", false
}

// WindowName returns the word used in denial messages for the cadence.
func (c Cadence) WindowName() string {
	switch c {
	case CadenceDaily:
		return "daily"
	case CadenceWeekly:
		return "weekly"
	case CadenceThirtyDay:
		return "monthly"
	default:
		return string(c)
	}
}

// String implements fmt.Stringer.
func (d Dimension) String() string { return string(d) }

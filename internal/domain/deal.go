package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DealType tags the discount strategy a deal uses
type DealType string

const (
	DealTypePercentage  DealType = "PERCENTAGE"
	DealTypeFixedAmount DealType = "FIXED_AMOUNT"
)

// ParseDealType accepts the current tags and the legacy *_DISCOUNT names
func ParseDealType(s string) (DealType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PERCENTAGE", "PERCENTAGE_DISCOUNT":
		return DealTypePercentage, true
	case "FIXED_AMOUNT", "FIXED_AMOUNT_DISCOUNT":
		return DealTypeFixedAmount, true
	default:
		return "", false
	}
}

// Deal is a discount rule attached to one or more products.
// Expiration is stored but not enforced when pricing a receipt.
type Deal struct {
	ID            string
	Description   string
	Expiration    time.Time
	Type          DealType
	DiscountValue decimal.Decimal
}

// IsExpired reports whether the deal expired before now
func (d Deal) IsExpired(now time.Time) bool {
	return !d.Expiration.IsZero() && now.After(d.Expiration)
}

// dealTimeLayouts are tried in order when parsing an expiration
var dealTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseExpiration parses an ISO-8601 timestamp with or without offset.
// Timestamps without an offset are read as UTC.
func ParseExpiration(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dealTimeLayouts {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Package matching proposes links between bank transactions and approved claims.
package matching

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultReferencePattern finds a "{year}-{number}" sequence such as 2025-00005
// inside a filename or a bank communication.
const DefaultReferencePattern = `(?:^|\D)(\d{4}-\d{5})(?:\D|$)`

// Config holds every matching threshold.
type Config struct {
	// AmountTolerance is the accepted relative deviation from |transaction amount|
	AmountTolerance decimal.Decimal
	AmountWeight    float64
	KeywordWeight   float64
	DateWeight      float64
	// DateWindowDays is the distance at which the date contribution reaches zero
	DateWindowDays int
	// AutoLinkScore is the minimum fuzzy score linked without review
	AutoLinkScore float64
	// ReviewScore is the minimum fuzzy score worth showing to a treasurer
	ReviewScore      float64
	ReferencePattern string
}

// DefaultConfig returns the thresholds used when nothing is configured
func DefaultConfig() Config {
	return Config{
		AmountTolerance:  decimal.NewFromFloat(0.10),
		AmountWeight:     70,
		KeywordWeight:    20,
		DateWeight:       10,
		DateWindowDays:   60,
		AutoLinkScore:    85,
		ReviewScore:      35,
		ReferencePattern: DefaultReferencePattern,
	}
}

// Validate rejects inconsistent thresholds
func (c Config) Validate() error {
	if !c.AmountTolerance.IsPositive() {
		return fmt.Errorf("amount tolerance must be positive")
	}
	if c.AmountWeight < 0 || c.KeywordWeight < 0 || c.DateWeight < 0 {
		return fmt.Errorf("weights must not be negative")
	}
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("date window must be positive")
	}
	if c.ReviewScore > c.AutoLinkScore {
		return fmt.Errorf("review score %.1f exceeds auto-link score %.1f", c.ReviewScore, c.AutoLinkScore)
	}
	if c.AutoLinkScore > c.AmountWeight+c.KeywordWeight+c.DateWeight {
		return fmt.Errorf("auto-link score %.1f is unreachable", c.AutoLinkScore)
	}
	if c.ReferencePattern == "" {
		return fmt.Errorf("reference pattern is required")
	}
	return nil
}

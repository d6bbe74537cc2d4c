package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalThreshold is the club-wide double approval policy.
type ApprovalThreshold struct {
	Amount                decimal.Decimal `json:"amount"`
	DoubleApprovalEnabled bool            `json:"double_approval_enabled"`
	UpdatedAt             time.Time       `json:"updated_at,omitempty"`
}

// RequiresDoubleApproval applies the policy to a claim amount.
func (t ApprovalThreshold) RequiresDoubleApproval(amount decimal.Decimal) bool {
	return t.DoubleApprovalEnabled && amount.GreaterThan(t.Amount)
}

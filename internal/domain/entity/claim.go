package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseClaim is a member's request for reimbursement of an expense.
type ExpenseClaim struct {
	ID          string          `json:"id"`
	RequesterID string          `json:"requester_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExpenseDate time.Time       `json:"expense_date"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	Status      string          `json:"status"`

	FirstApproverID  string     `json:"first_approver_id,omitempty"`
	FirstApprovedAt  *time.Time `json:"first_approved_at,omitempty"`
	SecondApproverID string     `json:"second_approver_id,omitempty"`
	SecondApprovedAt *time.Time `json:"second_approved_at,omitempty"`

	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// RequiresDoubleApproval is snapshotted once at submission.
	RequiresDoubleApproval bool `json:"requires_double_approval"`

	ReimbursedAt     *time.Time `json:"reimbursed_at,omitempty"`
	ReimbursementRef string     `json:"reimbursement_ref,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	ActivityID string          `json:"activity_id,omitempty"`
	Documents  []DocumentAsset `json:"documents,omitempty"`

	// Version is the optimistic concurrency token checked on every update.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDeleted reports whether the claim reached its terminal deleted status.
func (c *ExpenseClaim) IsDeleted() bool {
	return c.Status == StatusDeleted
}

// AwaitsApproval reports whether an approver can still act on the claim.
func (c *ExpenseClaim) AwaitsApproval() bool {
	return c.Status == StatusSubmitted || c.Status == StatusAwaitingValidation
}

// CanBeSettled reports whether a bank transaction may be linked to the claim.
// Only approved claims are paid out, so settlement starts at approuve.
func (c *ExpenseClaim) CanBeSettled() bool {
	return c.Status == StatusApproved || c.Status == StatusReimbursed
}

// Ref returns the link target for this claim.
func (c *ExpenseClaim) Ref() EntityRef {
	return EntityRef{Type: EntityTypeClaim, ID: c.ID}
}

// Clone returns a deep copy, so callers can mutate it before a conditional write.
func (c *ExpenseClaim) Clone() *ExpenseClaim {
	cp := *c
	cp.SubmittedAt = cloneTime(c.SubmittedAt)
	cp.FirstApprovedAt = cloneTime(c.FirstApprovedAt)
	cp.SecondApprovedAt = cloneTime(c.SecondApprovedAt)
	cp.RejectedAt = cloneTime(c.RejectedAt)
	cp.ReimbursedAt = cloneTime(c.ReimbursedAt)
	cp.DeletedAt = cloneTime(c.DeletedAt)
	if c.Documents != nil {
		cp.Documents = make([]DocumentAsset, len(c.Documents))
		for i, d := range c.Documents {
			cp.Documents[i] = d.Clone()
		}
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

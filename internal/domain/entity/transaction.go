package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction is one movement of the club's bank account.
type BankTransaction struct {
	ID             string          `json:"id"`
	ExecutionDate  time.Time       `json:"execution_date"`
	Amount         decimal.Decimal `json:"amount"`
	Counterparty   string          `json:"counterparty"`
	Communication  string          `json:"communication"`
	SequenceNumber string          `json:"sequence_number,omitempty"`
	Reconciled     bool            `json:"reconciled"`
	Links          []LinkRecord    `json:"links"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EntityRef identifies the business record a transaction is linked to.
type EntityRef struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// ClaimRef is a shorthand for a claim link target.
func ClaimRef(id string) EntityRef {
	return EntityRef{Type: EntityTypeClaim, ID: id}
}

// ActivityRef is a shorthand for an activity link target.
func ActivityRef(id string) EntityRef {
	return EntityRef{Type: EntityTypeActivity, ID: id}
}

// IsValid reports whether the entity type is known and the id is set.
func (r EntityRef) IsValid() bool {
	return (r.Type == EntityTypeClaim || r.Type == EntityTypeActivity) && r.ID != ""
}

// LinkRecord associates a transaction with one business record.
type LinkRecord struct {
	TransactionID string    `json:"transaction_id"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Confidence    int       `json:"confidence"`
	MatchedBy     string    `json:"matched_by"`
	MatchedAt     time.Time `json:"matched_at"`
	LinkedBy      string    `json:"linked_by,omitempty"`
}

// Ref returns the link target.
func (l LinkRecord) Ref() EntityRef {
	return EntityRef{Type: l.EntityType, ID: l.EntityID}
}

// FindLink returns the index of the link to ref, or -1.
func (t *BankTransaction) FindLink(ref EntityRef) int {
	for i, l := range t.Links {
		if l.EntityType == ref.Type && l.EntityID == ref.ID {
			return i
		}
	}
	return -1
}

// ClaimLink returns the link that drives a claim's reimbursement, if any.
func (t *BankTransaction) ClaimLink() (LinkRecord, bool) {
	for _, l := range t.Links {
		if l.EntityType == EntityTypeClaim {
			return l, true
		}
	}
	return LinkRecord{}, false
}

// RemoveLink drops the link to ref and reports whether one was present.
func (t *BankTransaction) RemoveLink(ref EntityRef) bool {
	i := t.FindLink(ref)
	if i < 0 {
		return false
	}
	t.Links = append(t.Links[:i:i], t.Links[i+1:]...)
	t.RecomputeReconciled()
	return true
}

// RecomputeReconciled derives the reconciled flag from the link set.
func (t *BankTransaction) RecomputeReconciled() {
	t.Reconciled = len(t.Links) > 0
}

// AbsAmount returns the unsigned amount used for matching.
func (t *BankTransaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// Clone returns a deep copy of the transaction and its links.
func (t *BankTransaction) Clone() *BankTransaction {
	cp := *t
	if t.Links != nil {
		cp.Links = append([]LinkRecord(nil), t.Links...)
	}
	return &cp
}

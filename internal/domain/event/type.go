package event

// Type identifies the type of domain event
type Type string

const (
	TypeClaimSubmitted         Type = "claim.submitted"
	TypeClaimApproved          Type = "claim.approved"
	TypeClaimRejected          Type = "claim.rejected"
	TypeClaimReimbursed        Type = "claim.reimbursed"
	TypeReimbursementReversed  Type = "claim.reimbursement_reversed"
	TypeClaimDeleted           Type = "claim.deleted"
	TypeTransactionLinked      Type = "transaction.linked"
	TypeTransactionUnlinked    Type = "transaction.unlinked"
	TypeTransactionsImported   Type = "transaction.imported"
	TypeReconciliationFinished Type = "reconciliation.finished"
	TypeDuplicateDetected      Type = "document.duplicate_detected"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeClaimSubmitted,
		TypeClaimApproved,
		TypeClaimRejected,
		TypeClaimReimbursed,
		TypeReimbursementReversed,
		TypeClaimDeleted,
		TypeTransactionLinked,
		TypeTransactionUnlinked,
		TypeTransactionsImported,
		TypeReconciliationFinished,
		TypeDuplicateDetected:
		return true
	default:
		return false
	}
}

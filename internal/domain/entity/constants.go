package entity

// Status constants for ExpenseClaim. The French values are the persisted
// vocabulary of the club's treasury records.
const (
	StatusDraft              = "draft"
	StatusSubmitted          = "submitted"
	StatusAwaitingValidation = "en_attente_validation"
	StatusApproved           = "approuve"
	StatusReimbursed         = "rembourse"
	StatusRejected           = "refuse"
	StatusDeleted            = "supprime"
)

// Entity types a bank transaction can be linked to
const (
	EntityTypeClaim    = "claim"
	EntityTypeActivity = "activity"
)

// Link provenance
const (
	MatchedByAuto   = "auto"
	MatchedByManual = "manual"
)

// Capabilities checked through the permission gate
const (
	CapabilityApproveClaims      = "claims.approve"
	CapabilityReconcile          = "transactions.reconcile"
	CapabilityImportTransactions = "transactions.import"
	CapabilityManageSettings     = "settings.manage"
)

// Confidence bounds for LinkRecord
const (
	MinConfidence = 0
	MaxConfidence = 100
)

// DefaultCurrency is the currency of every club amount.
const DefaultCurrency = "EUR"

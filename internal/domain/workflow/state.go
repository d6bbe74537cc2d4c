package workflow

// State is a claim lifecycle state. Values match the persisted claim status.
type State string

const (
	StateDraft              State = "draft"
	StateSubmitted          State = "submitted"
	StateAwaitingValidation State = "en_attente_validation"
	StateApproved           State = "approuve"
	StateReimbursed         State = "rembourse"
	StateRejected           State = "refuse"
	StateDeleted            State = "supprime"
)

var validStates = map[State]bool{
	StateDraft:              true,
	StateSubmitted:          true,
	StateAwaitingValidation: true,
	StateApproved:           true,
	StateReimbursed:         true,
	StateRejected:           true,
	StateDeleted:            true,
}

// Rejected claims are not terminal: they can still be deleted.
var terminalStates = map[State]bool{
	StateDeleted: true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsPendingApproval returns true while an approver can act on the claim
func (s State) IsPendingApproval() bool {
	return s == StateSubmitted || s == StateAwaitingValidation
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

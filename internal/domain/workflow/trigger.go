package workflow

// Trigger is an action that can move a claim to another state
type Trigger string

const (
	TriggerSubmit    Trigger = "SUBMIT"
	TriggerApprove   Trigger = "APPROVE"
	TriggerReject    Trigger = "REJECT"
	TriggerReimburse Trigger = "REIMBURSE"
	TriggerReverse   Trigger = "REVERSE_REIMBURSEMENT"
	TriggerDelete    Trigger = "DELETE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// Action returns the lower-case verb used in error messages
func (t Trigger) Action() string {
	switch t {
	case TriggerSubmit:
		return "submit"
	case TriggerApprove:
		return "approve"
	case TriggerReject:
		return "reject"
	case TriggerReimburse:
		return "mark reimbursed"
	case TriggerReverse:
		return "reverse reimbursement"
	case TriggerDelete:
		return "delete"
	default:
		return string(t)
	}
}

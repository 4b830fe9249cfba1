package domain

// ProposalAction is the action a data subject requested.
type ProposalAction string

const (
	ActionAccess  ProposalAction = "access"
	ActionErasure ProposalAction = "erasure"
)

// ParseProposalAction validates a requested action name.
func ParseProposalAction(s string) (ProposalAction, error) {
	switch ProposalAction(s) {
	case ActionAccess, ActionErasure:
		return ProposalAction(s), nil
	default:
		return "", ErrValidation("unknown request type %q", s)
	}
}

// Proposal is a proposed scope of action over a set of findings.
type Proposal struct {
	ID            string         `json:"id"`
	SubjectID     string         `json:"subject_id"`
	Action        ProposalAction `json:"action"`
	Targets       []string       `json:"targets"` // finding IDs
	Justification string         `json:"justification,omitempty"`
}

// ProposalSelection narrows a proposal to the targets a reviewer accepted.
// A nil TargetIDs accepts every target of the proposal.
type ProposalSelection struct {
	ProposalID string   `json:"proposal_id"`
	TargetIDs  []string `json:"target_ids,omitempty"`
}

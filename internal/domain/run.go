package domain

import (
	"slices"
	"time"
)

// RunState is a state of the DSAR run state machine.
type RunState string

const (
	StateIntake             RunState = "INTAKE"
	StateIdentityPending    RunState = "IDENTITY_PENDING"
	StateIdentityVerified   RunState = "IDENTITY_VERIFIED"
	StateIdentityBlocked    RunState = "IDENTITY_BLOCKED"
	StateFindingsCollected  RunState = "FINDINGS_COLLECTED"
	StateProposed           RunState = "PROPOSED"
	StateGuardrailEvaluated RunState = "GUARDRAIL_EVALUATED"
	StateAwaitingApproval   RunState = "AWAITING_APPROVAL"
	StateBlocked            RunState = "BLOCKED"
	StateApproved           RunState = "APPROVED"
	StateOverridden         RunState = "OVERRIDDEN"
	StateFinalized          RunState = "FINALIZED"
	StateAbandoned          RunState = "ABANDONED"
)

// EventType names the trigger of a transition. It doubles as the audit stage.
type EventType string

const (
	EventRunCreated          EventType = "run.created"
	EventIdentityAssessed    EventType = "identity.assessed"
	EventIdentityClarified   EventType = "identity.clarified"
	EventFindingsCollected   EventType = "findings.collected"
	EventProposed            EventType = "proposals.generated"
	EventGuardrailsEvaluated EventType = "guardrails.evaluated"
	EventGuardrailGated      EventType = "guardrails.gated"
	EventGuardrailsRechecked EventType = "guardrails.reevaluated"
	EventApproved            EventType = "decision.approved"
	EventOverridden          EventType = "decision.overridden"
	EventFinalized           EventType = "run.finalized"
	EventExportCompleted     EventType = "export.completed"
	EventExportFailed        EventType = "export.failed"
	EventAbandoned           EventType = "run.abandoned"
)

// transitions lists, per state and event, the states the event may lead to.
var transitions = map[RunState]map[EventType][]RunState{
	StateIntake: {
		EventRunCreated: {StateIdentityPending},
	},
	StateIdentityPending: {
		EventIdentityAssessed: {StateIdentityVerified, StateIdentityBlocked},
	},
	StateIdentityVerified: {
		EventFindingsCollected: {StateFindingsCollected},
	},
	StateIdentityBlocked: {
		EventIdentityClarified: {StateFindingsCollected},
	},
	StateFindingsCollected: {
		EventProposed: {StateProposed},
	},
	StateProposed: {
		EventGuardrailsEvaluated: {StateGuardrailEvaluated},
	},
	StateGuardrailEvaluated: {
		EventGuardrailGated: {StateAwaitingApproval, StateBlocked},
	},
	StateAwaitingApproval: {
		EventApproved:            {StateApproved},
		EventGuardrailsRechecked: {StateAwaitingApproval, StateBlocked},
	},
	StateBlocked: {
		EventOverridden:          {StateOverridden},
		EventGuardrailsRechecked: {StateAwaitingApproval, StateBlocked},
	},
	StateApproved: {
		EventFinalized: {StateFinalized},
	},
	StateOverridden: {
		EventFinalized: {StateFinalized},
	},
	StateFinalized: {
		EventExportCompleted: {StateFinalized},
		EventExportFailed:    {StateFinalized},
	},
}

// CanTransition reports whether event may move a run from one state to another.
// Abandonment is legal from every non-terminal state.
func CanTransition(from RunState, event EventType, to RunState) bool {
	if event == EventAbandoned {
		return to == StateAbandoned && !IsTerminal(from)
	}
	return slices.Contains(transitions[from][event], to)
}

// IsTerminal reports whether no further decision can be made on a run.
func IsTerminal(s RunState) bool {
	return s == StateFinalized || s == StateAbandoned
}

// IsWaiting reports whether the run is suspended on a human decision.
func IsWaiting(s RunState) bool {
	switch s {
	case StateIdentityBlocked, StateAwaitingApproval, StateBlocked, StateApproved, StateOverridden:
		return true
	default:
		return false
	}
}

// ExportStatus tracks the export side effect of a finalized run.
type ExportStatus string

const (
	ExportNone         ExportStatus = "none"
	ExportCompleted    ExportStatus = "exported"
	ExportPendingRetry ExportStatus = "pending_retry"
)

// ExportState is the export bookkeeping stored with a run.
type ExportState struct {
	Status     ExportStatus `json:"status"`
	Location   string       `json:"location,omitempty"`
	Checksum   string       `json:"checksum,omitempty"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	ExportedAt *time.Time   `json:"exported_at,omitempty"`
}

// Approval records the human decision that released a run for finalization.
type Approval struct {
	Decision      EventType           `json:"decision"`
	Actor         string              `json:"actor"`
	Justification string              `json:"justification,omitempty"`
	Selections    []ProposalSelection `json:"selections"`
	// RedactionsWaived is set when a justified decision lifted the policy's
	// required redactions.
	RedactionsWaived bool      `json:"redactions_waived,omitempty"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Run is the DSAR run aggregate. It exclusively owns its assessment,
// findings, proposals, verdicts and audit trail.
type Run struct {
	ID            string
	SubjectID     string
	SubjectEmail  string
	RequestTypes  []ProposalAction
	State         RunState
	Version       int64
	Policy        PolicyConfig
	Identity      *IdentityAssessment
	Clarification *IdentityClarification
	Findings      []Finding
	Artifacts     []Artifact
	Proposals     []Proposal
	Verdicts      []GuardrailVerdict
	Approval      *Approval
	Summary       string
	Export        ExportState
	Erasure       *ErasureRecord
	AuditSeq      int64
	AuditHead     string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Requested reports whether the subject asked for the given action.
func (r *Run) Requested(a ProposalAction) bool {
	return slices.Contains(r.RequestTypes, a)
}

// Proposal returns the proposal with the given ID.
func (r *Run) Proposal(id string) (*Proposal, bool) {
	for i := range r.Proposals {
		if r.Proposals[i].ID == id {
			return &r.Proposals[i], true
		}
	}
	return nil, false
}

// Intake is a new DSAR as submitted by a data subject.
type Intake struct {
	SubjectID    string
	SubjectEmail string
	RequestTypes []ProposalAction
	Artifact     *IdentityArtifact
	ArtifactErr  error // set when an upload was attempted but could not be read
}

// Validate checks that the intake is well-formed.
func (in *Intake) Validate() error {
	if in.SubjectEmail == "" && in.SubjectID == "" {
		return ErrValidation("subject_email or subject_id is required")
	}
	if len(in.RequestTypes) == 0 {
		return ErrValidation("at least one request type is required")
	}
	for _, a := range in.RequestTypes {
		if _, err := ParseProposalAction(string(a)); err != nil {
			return err
		}
	}
	return nil
}

// RunFilter holds filter parameters for listing runs.
type RunFilter struct {
	State     *RunState
	SubjectID *string
	Page      PageRequest
}

// DecisionKind is the type of message on the human decision channel.
type DecisionKind string

const (
	DecisionApprove         DecisionKind = "approve"
	DecisionOverride        DecisionKind = "override"
	DecisionIdentityClarify DecisionKind = "identity_clarify"
)

// Decision is a human decision fed back into the run state machine.
type Decision struct {
	RunID   string          `json:"run_id"`
	Kind    DecisionKind    `json:"decision"`
	Payload DecisionPayload `json:"payload"`
}

// DecisionPayload carries the decision details. Which fields apply depends on Kind.
type DecisionPayload struct {
	Selections    []ProposalSelection `json:"selections"`
	Justification string              `json:"justification,omitempty"`
	Approved      *bool               `json:"approved,omitempty"`
	Note          string              `json:"note,omitempty"`
}

package dsar

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gdpr-guardian/internal/domain"
)

// Decide dispatches a message from the human decision channel.
func (s *Service) Decide(ctx context.Context, d domain.Decision) (*domain.Run, error) {
	switch d.Kind {
	case domain.DecisionApprove:
		return s.ApproveJustified(ctx, d.RunID, d.Payload.Selections, d.Payload.Justification)
	case domain.DecisionOverride:
		return s.Override(ctx, d.RunID, d.Payload.Justification, d.Payload.Selections)
	case domain.DecisionIdentityClarify:
		if d.Payload.Approved == nil {
			return nil, domain.ErrValidation("identity_clarify requires payload.approved")
		}
		return s.ClarifyIdentity(ctx, d.RunID, *d.Payload.Approved, d.Payload.Note)
	default:
		return nil, domain.ErrValidation("unknown decision %q", d.Kind)
	}
}

// Approve releases an AWAITING_APPROVAL run for the named proposal subset.
// Guardrails are re-evaluated first; if they now block, the run moves to
// BLOCKED and a GuardrailBlockedError is returned alongside it.
func (s *Service) Approve(ctx context.Context, runID string, selections []domain.ProposalSelection) (*domain.Run, error) {
	return s.ApproveJustified(ctx, runID, selections, "")
}

// ApproveJustified is Approve with a justification. A justification waives
// the policy's required redactions and is rejected when the policy does not
// allow that.
func (s *Service) ApproveJustified(ctx context.Context, runID string, selections []domain.ProposalSelection, justification string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.StateAwaitingApproval {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventApproved}
	}
	if selections == nil {
		return nil, domain.ErrValidation("approval must name the accepted proposal subset")
	}
	selected, err := normalizeSelections(run, selections)
	if err != nil {
		return nil, err
	}
	justification = strings.TrimSpace(justification)
	if justification != "" && !run.Policy.Redaction.AllowOverrideWithJustification {
		return nil, domain.ErrValidation("policy does not allow waiving required redactions with a justification")
	}

	actor := domain.ActorFromContext(ctx)
	verdicts, err := s.evaluate(ctx, run)
	if err != nil {
		return nil, err
	}
	if !domain.AllAllowed(verdicts) {
		if err := s.step(ctx, run, domain.EventGuardrailsRechecked, domain.StateBlocked, actor,
			recheckPayload{Trigger: "approve", Verdicts: verdicts}, func(r *domain.Run) { r.Verdicts = verdicts }); err != nil {
			return nil, err
		}
		return run, &domain.GuardrailBlockedError{RunID: run.ID, Verdicts: domain.Blocked(verdicts)}
	}

	approval := &domain.Approval{
		Decision:         domain.EventApproved,
		Actor:            actor,
		Justification:    justification,
		Selections:       selected,
		RedactionsWaived: justification != "",
		DecidedAt:        s.now().UTC(),
	}
	payload := decisionPayload{
		Selections:         selected,
		Justification:      justification,
		Verdicts:           verdicts,
		RequiredRedactions: domain.RequiredRedactions(run, selected),
		RedactionsWaived:   approval.RedactionsWaived,
	}
	if err := s.step(ctx, run, domain.EventApproved, domain.StateApproved, actor, payload, func(r *domain.Run) {
		r.Verdicts = verdicts
		r.Approval = approval
	}); err != nil {
		return nil, err
	}
	return run, nil
}

// Override releases a BLOCKED run despite its guardrail verdicts. Only an
// admin (dpo) principal may override. A nil selection list overrides every
// proposal.
func (s *Service) Override(ctx context.Context, runID, justification string, selections []domain.ProposalSelection) (*domain.Run, error) {
	if p, ok := domain.PrincipalFromContext(ctx); !ok || !p.IsAdmin {
		return nil, domain.ErrAccessDenied("overriding a guardrail block requires the dpo role")
	}
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.StateBlocked {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventOverridden}
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return nil, domain.ErrValidation("override requires a non-empty justification")
	}
	if selections == nil {
		for _, p := range run.Proposals {
			selections = append(selections, domain.ProposalSelection{ProposalID: p.ID})
		}
		if selections == nil {
			selections = []domain.ProposalSelection{}
		}
	}
	selected, err := normalizeSelections(run, selections)
	if err != nil {
		return nil, err
	}

	actor := domain.ActorFromContext(ctx)
	verdicts, err := s.evaluate(ctx, run)
	if err != nil {
		return nil, err
	}
	blocked := map[string]bool{}
	for _, v := range domain.Blocked(verdicts) {
		blocked[v.ProposalID] = true
	}
	approval := &domain.Approval{
		Decision:         domain.EventOverridden,
		Actor:            actor,
		Justification:    justification,
		Selections:       selected,
		RedactionsWaived: run.Policy.Redaction.AllowOverrideWithJustification,
		DecidedAt:        s.now().UTC(),
	}
	payload := decisionPayload{
		Selections:         selected,
		Justification:      justification,
		Verdicts:           verdicts,
		RequiredRedactions: domain.RequiredRedactions(run, selected),
		RedactionsWaived:   approval.RedactionsWaived,
	}
	if err := s.step(ctx, run, domain.EventOverridden, domain.StateOverridden, actor, payload, func(r *domain.Run) {
		r.Proposals = slices.Clone(r.Proposals)
		for i := range r.Proposals {
			if blocked[r.Proposals[i].ID] {
				r.Proposals[i].Justification = justification
			}
		}
		r.Verdicts = verdicts
		r.Approval = approval
	}); err != nil {
		return nil, err
	}
	s.logger.Warn("guardrail block overridden", "run_id", run.ID, "actor", actor, "blocked", len(blocked))
	return run, nil
}

// Reevaluate re-runs the guardrail gate on a waiting run, e.g. after a
// legal hold was lifted or placed.
func (s *Service) Reevaluate(ctx context.Context, runID string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.StateAwaitingApproval && run.State != domain.StateBlocked {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventGuardrailsRechecked}
	}
	verdicts, err := s.evaluate(ctx, run)
	if err != nil {
		return nil, err
	}
	if err := s.step(ctx, run, domain.EventGuardrailsRechecked, gate(verdicts), domain.ActorFromContext(ctx),
		recheckPayload{Trigger: "manual", Verdicts: verdicts}, func(r *domain.Run) { r.Verdicts = verdicts }); err != nil {
		return nil, err
	}
	return run, nil
}

// Finalize records the finalization and then exports the bundle. The
// finalization carries the erasure record: artifacts holding selected
// erasure targets are marked erased. Export failure leaves the run FINALIZED
// with its export pending retry.
func (s *Service) Finalize(ctx context.Context, runID string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State == domain.StateFinalized {
		return nil, &domain.AlreadyFinalizedError{RunID: run.ID}
	}
	if run.Approval == nil || !domain.CanTransition(run.State, domain.EventFinalized, domain.StateFinalized) {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventFinalized}
	}
	actor := domain.ActorFromContext(ctx)
	erasure := domain.NewErasureRecord(run, s.now().UTC())
	if err := s.step(ctx, run, domain.EventFinalized, domain.StateFinalized, actor,
		finalizedPayload{Decision: run.Approval.Decision, Selections: run.Approval.Selections, Erasure: erasure},
		func(r *domain.Run) { r.Erasure = erasure }); err != nil {
		return nil, err
	}
	if erasure.Status == domain.ErasureRecorded {
		s.logger.Info("erasure recorded", "run_id", run.ID, "artifacts", len(erasure.Artifacts), "findings", erasure.Findings)
	}
	return s.export(ctx, run, actor)
}

// RetryExport re-attempts the export of a finalized run without redoing
// its decision.
func (s *Service) RetryExport(ctx context.Context, runID string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.StateFinalized {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventExportCompleted}
	}
	if run.Export.Status == domain.ExportCompleted {
		return nil, domain.ErrConflict("run %s has already been exported to %s", run.ID, run.Export.Location)
	}
	return s.export(ctx, run, domain.ActorFromContext(ctx))
}

func (s *Service) export(ctx context.Context, run *domain.Run, actor string) (*domain.Run, error) {
	attempt := run.Export.Attempts + 1
	trail, err := s.audit.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("load audit trail for run %s: %w", run.ID, err)
	}

	res, exportErr := s.exporter.Export(ctx, run, trail)
	if exportErr != nil {
		msg := exportErr.Error()
		if err := s.step(ctx, run, domain.EventExportFailed, domain.StateFinalized, actor,
			exportPayload{Attempt: attempt, Error: msg}, func(r *domain.Run) {
				r.Export = domain.ExportState{Status: domain.ExportPendingRetry, Error: msg, Attempts: attempt}
			}); err != nil {
			return nil, err
		}
		s.logger.Error("export failed; pending retry", "run_id", run.ID, "attempt", attempt, "error", exportErr)
		return run, &domain.ExportFailureError{RunID: run.ID, Err: exportErr}
	}

	exportedAt := s.now().UTC()
	if err := s.step(ctx, run, domain.EventExportCompleted, domain.StateFinalized, actor,
		exportPayload{Attempt: attempt, Location: res.Location, Checksum: res.Checksum}, func(r *domain.Run) {
			r.Export = domain.ExportState{
				Status:     domain.ExportCompleted,
				Location:   res.Location,
				Checksum:   res.Checksum,
				Attempts:   attempt,
				ExportedAt: &exportedAt,
			}
		}); err != nil {
		return nil, err
	}
	s.logger.Info("run exported", "run_id", run.ID, "location", res.Location, "checksum", res.Checksum)
	return run, nil
}

// Abandon cancels a run. It is legal from every non-terminal state.
func (s *Service) Abandon(ctx context.Context, runID, reason string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.step(ctx, run, domain.EventAbandoned, domain.StateAbandoned, domain.ActorFromContext(ctx),
		abandonPayload{Reason: strings.TrimSpace(reason)}, nil); err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, runID string) (*domain.Run, error) {
	return s.runs.Get(ctx, runID)
}

// List returns a page of runs and the total count matching the filter.
func (s *Service) List(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	return s.runs.List(ctx, filter)
}

// AuditTrail returns a run's audit events in sequence order.
func (s *Service) AuditTrail(ctx context.Context, runID string) ([]domain.AuditEvent, error) {
	if _, err := s.runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.audit.ListByRun(ctx, runID)
}

// Subject returns the record guardrails evaluate against.
func (s *Service) Subject(ctx context.Context, subjectID string) (*domain.SubjectRecord, error) {
	return s.subjects.SubjectRecord(ctx, subjectID)
}

// SetLegalHold places or lifts a legal hold. Waiting runs pick the change up
// on their next guardrail check.
func (s *Service) SetLegalHold(ctx context.Context, subjectID string, hold bool) (*domain.SubjectRecord, error) {
	if err := s.subjects.SetLegalHold(ctx, subjectID, hold); err != nil {
		return nil, err
	}
	s.logger.Warn("legal hold changed", "subject_id", subjectID, "legal_hold", hold, "actor", domain.ActorFromContext(ctx))
	return s.subjects.SubjectRecord(ctx, subjectID)
}

// normalizeSelections checks selections against the run's proposals and
// expands a nil target list to every target of the proposal.
func normalizeSelections(run *domain.Run, selections []domain.ProposalSelection) ([]domain.ProposalSelection, error) {
	out := make([]domain.ProposalSelection, 0, len(selections))
	seen := map[string]bool{}
	for _, sel := range selections {
		p, ok := run.Proposal(sel.ProposalID)
		if !ok {
			return nil, domain.ErrValidation("run %s has no proposal %q", run.ID, sel.ProposalID)
		}
		if seen[sel.ProposalID] {
			return nil, domain.ErrValidation("proposal %q selected twice", sel.ProposalID)
		}
		seen[sel.ProposalID] = true

		targets := sel.TargetIDs
		if targets == nil {
			targets = slices.Clone(p.Targets)
		}
		for _, t := range targets {
			if !slices.Contains(p.Targets, t) {
				return nil, domain.ErrValidation("finding %q is not a target of proposal %q", t, p.ID)
			}
		}
		out = append(out, domain.ProposalSelection{ProposalID: p.ID, TargetIDs: targets})
	}
	return out, nil
}

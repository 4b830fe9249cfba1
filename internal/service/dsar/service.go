// Package dsar drives a data subject request through identity verification,
// discovery, proposal, guardrail gating, human decision and export. Every
// transition is persisted together with exactly one audit event before any
// side effect runs.
package dsar

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"gdpr-guardian/internal/domain"
	"gdpr-guardian/internal/service/guardrail"
	"gdpr-guardian/internal/service/identity"
	"gdpr-guardian/internal/service/proposal"
)

// actorSystem is recorded on automated stages.
const actorSystem = "system"

// PolicyProvider returns the loaded policy. It fails until a policy is loaded.
type PolicyProvider interface {
	Get() (domain.PolicyConfig, error)
	Source() string
}

// Service is the run state machine.
type Service struct {
	runs       domain.RunRepository
	audit      domain.AuditEventRepository
	subjects   domain.SubjectRepository
	policy     PolicyProvider
	verifier   domain.IdentityVerifier
	collector  domain.FindingCollector
	proposer   domain.ProposalGenerator
	guardrails domain.GuardrailEvaluator
	summarizer domain.Summarizer
	exporter   domain.ExportSink
	locks      *runLocks
	logger     *slog.Logger
	now        func() time.Time
}

// Deps holds dependencies for Service. Verifier, Proposer and Guardrails
// default to the built-in implementations; Summarizer is optional.
type Deps struct {
	Runs       domain.RunRepository
	Audit      domain.AuditEventRepository
	Subjects   domain.SubjectRepository
	Policy     PolicyProvider
	Verifier   domain.IdentityVerifier
	Collector  domain.FindingCollector
	Proposer   domain.ProposalGenerator
	Guardrails domain.GuardrailEvaluator
	Summarizer domain.Summarizer
	Exporter   domain.ExportSink
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewService creates a new Service.
func NewService(deps Deps) *Service {
	s := &Service{
		runs:       deps.Runs,
		audit:      deps.Audit,
		subjects:   deps.Subjects,
		policy:     deps.Policy,
		verifier:   deps.Verifier,
		collector:  deps.Collector,
		proposer:   deps.Proposer,
		guardrails: deps.Guardrails,
		summarizer: deps.Summarizer,
		exporter:   deps.Exporter,
		locks:      newRunLocks(),
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if s.verifier == nil {
		s.verifier = identity.NewHeuristicVerifier()
	}
	if s.proposer == nil {
		s.proposer = proposal.NewGenerator()
	}
	if s.guardrails == nil {
		s.guardrails = guardrail.NewEngine()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create opens a run for the intake and drives it until it needs a human:
// IDENTITY_BLOCKED, AWAITING_APPROVAL or BLOCKED.
func (s *Service) Create(ctx context.Context, in domain.Intake) (*domain.Run, error) {
	in.SubjectEmail = strings.TrimSpace(in.SubjectEmail)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	pol, err := s.policy.Get()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	actor := domain.ActorFromContext(ctx)
	run := &domain.Run{
		ID:           domain.NewID(),
		SubjectID:    cmp.Or(strings.TrimSpace(in.SubjectID), strings.ToLower(in.SubjectEmail)),
		SubjectEmail: in.SubjectEmail,
		RequestTypes: lo.Uniq(in.RequestTypes),
		State:        domain.StateIntake,
		Policy:       pol,
		Export:       domain.ExportState{Status: domain.ExportNone},
		CreatedBy:    actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	artifactName := ""
	if in.Artifact != nil {
		artifactName = in.Artifact.Name
	}
	ev, err := domain.NewAuditEvent(run, domain.EventRunCreated, domain.StateIntake, domain.StateIdentityPending, actor,
		createdPayload{SubjectID: run.SubjectID, RequestTypes: run.RequestTypes, PolicySource: s.policy.Source(), Artifact: artifactName}, now)
	if err != nil {
		return nil, err
	}
	run.State = domain.StateIdentityPending
	run.Version = 1
	run.AuditSeq = ev.Seq
	run.AuditHead = ev.Hash

	unlock := s.locks.lock(run.ID)
	defer unlock()

	if err := s.runs.Create(ctx, run, ev); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Info("run created", "run_id", run.ID, "subject_id", run.SubjectID, "request_types", run.RequestTypes, "actor", actor)

	var assessment domain.IdentityAssessment
	if in.ArtifactErr != nil {
		assessment = identity.Reject(in.Artifact, pol.MinConfidence(), &domain.MissingArtifactError{Reason: in.ArtifactErr.Error()})
	} else {
		assessment = s.verifier.Assess(in.Artifact, cmp.Or(run.SubjectEmail, run.SubjectID), pol)
	}
	to := domain.StateIdentityBlocked
	if assessment.Status == domain.IdentityAutoVerified {
		to = domain.StateIdentityVerified
	}
	if err := s.step(ctx, run, domain.EventIdentityAssessed, to, actorSystem, assessment, func(r *domain.Run) {
		r.Identity = &assessment
	}); err != nil {
		return nil, err
	}
	if to == domain.StateIdentityBlocked {
		s.logger.Info("identity needs clarification", "run_id", run.ID, "status", assessment.Status,
			"confidence", assessment.Confidence, "threshold", assessment.Threshold)
		return run, nil
	}
	if err := s.drive(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ClarifyIdentity resolves an IDENTITY_BLOCKED run. Approval resumes
// discovery; denial abandons the run.
func (s *Service) ClarifyIdentity(ctx context.Context, runID string, approved bool, note string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != domain.StateIdentityBlocked {
		return nil, &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventIdentityClarified}
	}
	actor := domain.ActorFromContext(ctx)
	c := domain.IdentityClarification{Approved: approved, Note: strings.TrimSpace(note), Actor: actor}
	setClarification := func(r *domain.Run) { r.Clarification = &c }

	if !approved {
		if err := s.step(ctx, run, domain.EventAbandoned, domain.StateAbandoned, actor,
			abandonPayload{Reason: "identity clarification denied", Clarification: &c}, setClarification); err != nil {
			return nil, err
		}
		return run, nil
	}

	col, err := s.collector.Collect(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("collect findings for run %s: %w", run.ID, err)
	}
	if err := s.step(ctx, run, domain.EventIdentityClarified, domain.StateFindingsCollected, actor,
		clarifiedPayload{Clarification: c, Collection: col.Stats}, func(r *domain.Run) {
			setClarification(r)
			r.Findings = col.Findings
			r.Artifacts = col.Artifacts
		}); err != nil {
		return nil, err
	}
	if err := s.drive(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Resume re-drives a run whose automated stages were interrupted, for
// example by a collector failure or a cancelled request, and leaves it at
// the next human decision point. A run still IDENTITY_PENDING no longer has
// its artifact and is sent to identity clarification.
func (s *Service) Resume(ctx context.Context, runID string) (*domain.Run, error) {
	unlock := s.locks.lock(runID)
	defer unlock()

	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !isAutomated(run.State) {
		return nil, domain.ErrConflict("run %s is %s and has no interrupted stage to resume", run.ID, run.State)
	}
	s.logger.Info("resuming run", "run_id", run.ID, "state", run.State, "actor", domain.ActorFromContext(ctx))
	if err := s.drive(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// isAutomated reports whether the state is left by an automated stage
// rather than a human decision.
func isAutomated(st domain.RunState) bool {
	switch st {
	case domain.StateIdentityPending, domain.StateIdentityVerified, domain.StateFindingsCollected,
		domain.StateProposed, domain.StateGuardrailEvaluated:
		return true
	default:
		return false
	}
}

// drive runs automated stages from the run's current state until it reaches
// a state that waits on a human. Each stage persists before the next starts,
// so an interrupted drive can be picked up by Resume.
func (s *Service) drive(ctx context.Context, run *domain.Run) error {
	for isAutomated(run.State) {
		if err := s.stage(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) stage(ctx context.Context, run *domain.Run) error {
	switch run.State {
	case domain.StateIdentityPending:
		assessment := identity.Reject(nil, run.Policy.MinConfidence(),
			&domain.MissingArtifactError{Reason: "identity artifact not retained after interrupted intake"})
		return s.step(ctx, run, domain.EventIdentityAssessed, domain.StateIdentityBlocked, actorSystem, assessment,
			func(r *domain.Run) { r.Identity = &assessment })

	case domain.StateIdentityVerified:
		col, err := s.collector.Collect(ctx, run)
		if err != nil {
			return fmt.Errorf("collect findings for run %s: %w", run.ID, err)
		}
		return s.step(ctx, run, domain.EventFindingsCollected, domain.StateFindingsCollected, actorSystem, col.Stats,
			func(r *domain.Run) {
				r.Findings = col.Findings
				r.Artifacts = col.Artifacts
			})

	case domain.StateFindingsCollected:
		proposals := s.proposer.Generate(run.Findings, run.RequestTypes)
		summary := s.summarize(ctx, run, proposals)
		return s.step(ctx, run, domain.EventProposed, domain.StateProposed, actorSystem,
			proposedPayload{Proposals: proposals, Summarized: summary != ""}, func(r *domain.Run) {
				r.Proposals = proposals
				r.Summary = summary
			})

	case domain.StateProposed:
		verdicts, err := s.evaluate(ctx, run)
		if err != nil {
			return err
		}
		return s.step(ctx, run, domain.EventGuardrailsEvaluated, domain.StateGuardrailEvaluated, actorSystem, verdicts,
			func(r *domain.Run) { r.Verdicts = verdicts })

	case domain.StateGuardrailEvaluated:
		to := gate(run.Verdicts)
		if err := s.step(ctx, run, domain.EventGuardrailGated, to, actorSystem, gatePayload{Blocked: domain.Blocked(run.Verdicts)}, nil); err != nil {
			return err
		}
		if to == domain.StateBlocked {
			s.logger.Warn("run blocked by guardrails", "run_id", run.ID, "blocked", len(domain.Blocked(run.Verdicts)))
		}
		return nil
	}
	return &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: domain.EventProposed}
}

func (s *Service) summarize(ctx context.Context, run *domain.Run, proposals []domain.Proposal) string {
	if s.summarizer == nil {
		return ""
	}
	summary, err := s.summarizer.Summarize(ctx, run.Findings, proposals)
	if err != nil {
		s.logger.Warn("summary failed; continuing without it", "run_id", run.ID, "error", err)
		return ""
	}
	return summary
}

// evaluate re-fetches the subject record and evaluates every proposal.
// Results are never cached: legal hold and retention inputs may change
// between checks.
func (s *Service) evaluate(ctx context.Context, run *domain.Run) ([]domain.GuardrailVerdict, error) {
	rec, err := s.subjects.SubjectRecord(ctx, run.SubjectID)
	if err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("fetch subject record: %w", err)
		}
		s.logger.Debug("no subject record; evaluating against empty history", "run_id", run.ID, "subject_id", run.SubjectID)
		rec = nil
	}
	now := s.now()
	return lo.Map(run.Proposals, func(p domain.Proposal, _ int) domain.GuardrailVerdict {
		return s.guardrails.Evaluate(p, rec, run.Policy, now)
	}), nil
}

func gate(verdicts []domain.GuardrailVerdict) domain.RunState {
	if domain.AllAllowed(verdicts) {
		return domain.StateAwaitingApproval
	}
	return domain.StateBlocked
}

// step applies one transition and persists it with its audit event. On
// failure the run is left untouched.
func (s *Service) step(ctx context.Context, run *domain.Run, event domain.EventType, to domain.RunState,
	actor string, payload any, mutate func(*domain.Run)) error {
	if !domain.CanTransition(run.State, event, to) {
		return &domain.InvalidTransitionError{RunID: run.ID, From: run.State, Event: event}
	}
	now := s.now().UTC()
	ev, err := domain.NewAuditEvent(run, event, run.State, to, actor, payload, now)
	if err != nil {
		return err
	}

	next := *run
	if mutate != nil {
		mutate(&next)
	}
	next.State = to
	next.Version = run.Version + 1
	next.AuditSeq = ev.Seq
	next.AuditHead = ev.Hash
	next.UpdatedAt = now
	if err := s.runs.Transition(ctx, &next, run.Version, ev); err != nil {
		return fmt.Errorf("persist %s for run %s: %w", event, run.ID, err)
	}
	*run = next
	s.logger.Info("run transitioned", "run_id", run.ID, "event", event, "from", ev.FromState, "to", to, "seq", ev.Seq, "actor", actor)
	return nil
}

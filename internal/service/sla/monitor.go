// Package sla reports runs that have been open longer than the policy's
// response deadline.
package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"gdpr-guardian/internal/domain"
)

// PolicyProvider returns the loaded policy.
type PolicyProvider interface {
	Get() (domain.PolicyConfig, error)
}

// Overdue is an open run past its deadline.
type Overdue struct {
	RunID     string          `json:"run_id"`
	SubjectID string          `json:"subject_id"`
	State     domain.RunState `json:"state"`
	Waiting   bool            `json:"waiting"`
	Deadline  time.Time       `json:"deadline"`
}

// Monitor checks deadlines on a cron schedule. It only reads and logs; it
// never advances or retries a run.
type Monitor struct {
	cron     *cron.Cron
	runs     domain.RunRepository
	policy   PolicyProvider
	schedule string
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a new Monitor. schedule is a cron spec or descriptor
// such as "@every 1h".
func NewMonitor(runs domain.RunRepository, policy PolicyProvider, schedule string, logger *slog.Logger) *Monitor {
	return &Monitor{
		cron:     cron.New(),
		runs:     runs,
		policy:   policy,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the check and starts the cron scheduler.
func (m *Monitor) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.schedule, func() {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Warn("sla check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sla schedule %q: %w", m.schedule, err)
	}
	m.cron.Start()
	m.logger.Info("sla monitor started", "schedule", m.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running check to finish.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("sla monitor stopped")
}

// Check lists every non-terminal run created before the access deadline.
func (m *Monitor) Check(ctx context.Context) ([]Overdue, error) {
	pol, err := m.policy.Get()
	if err != nil {
		return nil, err
	}
	window := time.Duration(pol.SLA.AccessDays) * 24 * time.Hour
	runs, err := m.runs.ListOpenBefore(ctx, m.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list open runs: %w", err)
	}
	out := make([]Overdue, 0, len(runs))
	for _, r := range runs {
		o := Overdue{
			RunID:     r.ID,
			SubjectID: r.SubjectID,
			State:     r.State,
			Waiting:   domain.IsWaiting(r.State),
			Deadline:  r.CreatedAt.Add(window),
		}
		m.logger.Warn("run past sla deadline", "run_id", o.RunID, "state", o.State,
			"waiting_on_human", o.Waiting, "deadline", o.Deadline)
		out = append(out, o)
	}
	return out, nil
}

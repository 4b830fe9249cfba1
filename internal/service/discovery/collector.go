package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"gdpr-guardian/internal/domain"
)

// Collector normalizes records from every configured source into findings.
type Collector struct {
	sources  []Source
	detector Detector
	subjects domain.SubjectRecordProvider
	logger   *slog.Logger
	now      func() time.Time
}

// CollectorDeps holds dependencies for Collector.
type CollectorDeps struct {
	Sources  []Source
	Subjects domain.SubjectRecordProvider // optional; adds known phone numbers
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(deps CollectorDeps) *Collector {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Collector{
		sources:  deps.Sources,
		subjects: deps.Subjects,
		logger:   logger,
		now:      now,
	}
}

var _ domain.FindingCollector = (*Collector)(nil)

// Collect fetches all sources concurrently. A failing source is logged and
// recorded in the stats; it never fails the collection as a whole. Records
// that yield findings are returned as artifacts so a delivery can be redacted
// from their text.
func (c *Collector) Collect(ctx context.Context, run *domain.Run) (domain.Collection, error) {
	stats := domain.CollectionStats{
		Sources: lo.Map(c.sources, func(s Source, _ int) string { return s.Name() }),
	}
	known := c.knownIdentifiers(ctx, run)

	var (
		mu      sync.Mutex
		records []domain.RawRecord
		failed  = map[string]string{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, src := range c.sources {
		g.Go(func() error {
			recs, err := src.Fetch(gctx, run.SubjectEmail)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("finding source failed", "run_id", run.ID, "source", src.Name(), "error", err)
				failed[src.Name()] = err.Error()
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Collection{Stats: stats}, fmt.Errorf("collect findings: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Collection{Stats: stats}, err
	}

	now := c.now().UTC()
	var (
		findings  []domain.Finding
		artifacts []domain.Artifact
		kept      = map[string]bool{}
	)
	for _, rec := range records {
		detections := c.detector.Detect(rec.Content)
		if len(detections) > 0 {
			a := domain.Artifact{RunID: run.ID, Source: rec.Source, ArtifactID: rec.ArtifactID, Content: rec.Content}
			if !kept[a.Key()] {
				kept[a.Key()] = true
				artifacts = append(artifacts, a)
			}
		}
		for _, d := range detections {
			third := d.Kind != domain.PIIAddress && !known.matches(d.Kind, d.Value)
			findings = append(findings, domain.Finding{
				ID:            domain.NewID(),
				RunID:         run.ID,
				SubjectID:     run.SubjectID,
				Source:        rec.Source,
				ArtifactID:    rec.ArtifactID,
				Kind:          d.Kind,
				Value:         d.Value,
				MaskedPreview: Mask(d.Kind, d.Value),
				Start:         d.Start,
				End:           d.End,
				Confidence:    d.Confidence,
				ThirdParty:    third,
				CreatedAt:     now,
			})
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.ArtifactID != b.ArtifactID {
			return a.ArtifactID < b.ArtifactID
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Kind < b.Kind
	})
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Key() < artifacts[j].Key() })

	stats.Records = len(records)
	stats.Findings = len(findings)
	stats.ThirdParty = lo.CountBy(findings, func(f domain.Finding) bool { return f.ThirdParty })
	if len(failed) > 0 {
		stats.FailedSources = failed
	}
	c.logger.Info("findings collected", "run_id", run.ID, "records", stats.Records,
		"findings", stats.Findings, "third_party", stats.ThirdParty, "artifacts", len(artifacts))
	return domain.Collection{Findings: findings, Artifacts: artifacts, Stats: stats}, nil
}

type identifiers struct {
	emails map[string]bool
	phones map[string]bool
}

func (c *Collector) knownIdentifiers(ctx context.Context, run *domain.Run) identifiers {
	ids := identifiers{emails: map[string]bool{}, phones: map[string]bool{}}
	if run.SubjectEmail != "" {
		ids.emails[strings.ToLower(run.SubjectEmail)] = true
	}
	if c.subjects == nil {
		return ids
	}
	rec, err := c.subjects.SubjectRecord(ctx, run.SubjectID)
	if err != nil {
		c.logger.Debug("no subject record for identifier matching", "subject_id", run.SubjectID, "error", err)
		return ids
	}
	if rec.Email != "" {
		ids.emails[strings.ToLower(rec.Email)] = true
	}
	if p := digits(rec.Phone); p != "" {
		ids.phones[p] = true
	}
	return ids
}

func (ids identifiers) matches(kind domain.PIIKind, value string) bool {
	switch kind {
	case domain.PIIEmail:
		return ids.emails[strings.ToLower(value)]
	case domain.PIIPhone:
		return ids.phones[digits(value)]
	default:
		return true
	}
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"gdpr-guardian/internal/domain"
)

// Exporter writes finalized runs to a blob store as runs/<run_id>.zip.
type Exporter struct {
	store  BlobStore
	logger *slog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(store BlobStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, logger: logger}
}

var (
	_ domain.ExportSink   = (*Exporter)(nil)
	_ domain.BundleReader = (*Exporter)(nil)
)

// Export builds and stores the run's bundle.
func (e *Exporter) Export(ctx context.Context, run *domain.Run, trail []domain.AuditEvent) (*domain.ExportResult, error) {
	if run.State != domain.StateFinalized {
		return nil, fmt.Errorf("run %s is %s, not finalized", run.ID, run.State)
	}
	data, checksum, err := Build(run, trail)
	if err != nil {
		return nil, fmt.Errorf("build bundle: %w", err)
	}
	loc, err := e.store.Put(ctx, path.Join("runs", run.ID+".zip"), data)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("bundle stored", "run_id", run.ID, "location", loc, "bytes", len(data))
	return &domain.ExportResult{Location: loc, Checksum: checksum, Size: int64(len(data))}, nil
}

// Open fetches a stored bundle.
func (e *Exporter) Open(ctx context.Context, location string) ([]byte, error) {
	return e.store.Get(ctx, location)
}

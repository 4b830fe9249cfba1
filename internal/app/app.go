// Package app provides application-level wiring and dependency injection
// for the guardian server following hexagonal architecture.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"

	"gdpr-guardian/internal/api"
	"gdpr-guardian/internal/config"
	internaldb "gdpr-guardian/internal/db"
	"gdpr-guardian/internal/db/crypto"
	"gdpr-guardian/internal/db/repository"
	"gdpr-guardian/internal/middleware"
	"gdpr-guardian/internal/policy"
	"gdpr-guardian/internal/service/discovery"
	"gdpr-guardian/internal/service/dsar"
	"gdpr-guardian/internal/service/export"
	"gdpr-guardian/internal/service/sla"
	"gdpr-guardian/internal/service/summary"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, the loaded policy and the data filesystem.
type Deps struct {
	Cfg    *config.Config
	Pool   *internaldb.Pool
	Policy *policy.Store
	DataFS afero.Fs // finding sources and the fs export backend; nil uses the OS
	Logger *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Runs     *dsar.Service
	Bundles  *export.Exporter
	Subjects *repository.SubjectRepo
	Monitor  *sla.Monitor
	Handler  *api.Handler

	cfg    *config.Config
	logger *slog.Logger
	store  export.BlobStore
}

// New wires repositories, services and the HTTP handler from the provided deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	fsys := deps.DataFS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	// === Crypto ===
	cipher, err := crypto.NewFieldCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	// === Repositories ===
	runRepo := repository.NewRunRepo(deps.Pool.Write, cipher)
	subjectRepo := repository.NewSubjectRepo(deps.Pool.Write)
	auditRepo := repository.NewAuditEventRepo(deps.Pool.Read)

	if cfg.SeedDemo {
		if err := seedDemo(ctx, subjectRepo); err != nil {
			logger.Warn("seed demo subject failed", "error", err)
		}
	}

	// === Export ===
	store, err := newBlobStore(ctx, cfg.Export, fsys)
	if err != nil {
		return nil, fmt.Errorf("export store: %w", err)
	}
	exporter := export.NewExporter(store, logger.With("component", "export"))

	// === Discovery ===
	sources := discovery.DefaultSources(fsys, cfg.DataDir)
	if len(sources) == 0 {
		logger.Warn("no finding sources found", "data_dir", cfg.DataDir)
	}
	collector := discovery.NewCollector(discovery.CollectorDeps{
		Sources:  sources,
		Subjects: subjectRepo,
		Logger:   logger.With("component", "discovery"),
	})

	// === Core service ===
	runSvc := dsar.NewService(dsar.Deps{
		Runs:       runRepo,
		Audit:      auditRepo,
		Subjects:   subjectRepo,
		Policy:     deps.Policy,
		Collector:  collector,
		Summarizer: summary.LocalSummarizer{},
		Exporter:   exporter,
		Logger:     logger.With("component", "dsar"),
	})

	monitor := sla.NewMonitor(runRepo, deps.Policy, cfg.SLACheckSchedule, logger.With("component", "sla"))

	return &App{
		Runs:     runSvc,
		Bundles:  exporter,
		Subjects: subjectRepo,
		Monitor:  monitor,
		Handler:  api.NewHandler(runSvc, exporter, logger.With("component", "api")),
		cfg:      cfg,
		logger:   logger,
		store:    store,
	}, nil
}

// Router builds the HTTP handler with authentication, rate limiting and CORS.
// With OIDC configured it fetches the issuer's discovery document.
func (a *App) Router(ctx context.Context) (http.Handler, error) {
	validator, err := newValidator(ctx, a.cfg.Auth)
	if err != nil {
		return nil, err
	}
	return api.NewRouter(ctx, a.Handler, api.RouterConfig{
		Validator: validator,
		APIKeys:   middleware.NewAPIKeys(a.cfg.Auth.APIKeys),
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.RateLimitRPS,
			Burst:             a.cfg.RateLimitBurst,
		},
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		Logger:         a.logger.With("component", "http"),
	}), nil
}

// newValidator prefers OIDC and falls back to the shared HS256 secret. It
// returns nil when only API keys are configured.
func newValidator(ctx context.Context, cfg config.AuthConfig) (middleware.TokenValidator, error) {
	switch {
	case cfg.OIDCEnabled():
		v, err := middleware.NewOIDCValidator(ctx, cfg.IssuerURL, cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("oidc validator: %w", err)
		}
		return v, nil
	case cfg.JWTSecret != "":
		v, err := middleware.NewHS256Validator(cfg.JWTSecret, cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("jwt validator: %w", err)
		}
		return v, nil
	default:
		return nil, nil
	}
}

// Close releases clients held by the export store.
func (a *App) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// newBlobStore selects the bundle store for the configured backend.
func newBlobStore(ctx context.Context, cfg config.ExportConfig, fsys afero.Fs) (export.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return export.NewS3Store(export.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			KeyID:    cfg.S3KeyID,
			Secret:   cfg.S3Secret,
		})
	case config.BackendGCS:
		return export.NewGCSStore(ctx, cfg.Bucket, cfg.GCSKeyFile)
	case config.BackendAzure:
		return export.NewAzureStore(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.Bucket)
	default:
		if err := fsys.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", cfg.Dir, err)
		}
		return export.NewFSStore(fsys, cfg.Dir), nil
	}
}

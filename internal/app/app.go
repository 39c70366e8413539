// Package app assembles the intake services from configuration. Both the
// daemon and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/expense-intake/internal/blob"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/dedup"
	"github.com/joseph-ayodele/expense-intake/internal/export"
	"github.com/joseph-ayodele/expense-intake/internal/ingest"
	"github.com/joseph-ayodele/expense-intake/internal/llm/openai"
	"github.com/joseph-ayodele/expense-intake/internal/metrics"
	"github.com/joseph-ayodele/expense-intake/internal/ocr"
	"github.com/joseph-ayodele/expense-intake/internal/pipeline"
	"github.com/joseph-ayodele/expense-intake/internal/repository"
	"github.com/joseph-ayodele/expense-intake/internal/scheduler"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
	"github.com/joseph-ayodele/expense-intake/internal/staging"
	"github.com/joseph-ayodele/expense-intake/internal/textract"
	"github.com/joseph-ayodele/expense-intake/internal/validate"
)

// App holds the wired services. Close releases the database.
type App struct {
	Cfg     *common.Config
	Logger  *slog.Logger
	DB      *repository.DB
	Metrics *metrics.Metrics

	Staged    repository.StagingRepository
	Records   repository.RecordRepository
	Schemas   repository.CustomSchemaRepository
	Staging   *staging.Manager
	Composer  *schema.Composer
	Ingest    *ingest.Service
	Processor *pipeline.Processor
	Export    *export.Service
}

// New opens the database and blob store and wires every service. reg may be
// nil, in which case no metrics are collected.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a, err := wire(ctx, cfg, db, logger, reg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *common.Config, db *repository.DB, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if err := db.HealthCheck(ctx, cfg.Database.DialTimeout); err != nil {
		return nil, fmt.Errorf("database health: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var m *metrics.Metrics
	if reg != nil {
		var err error
		if m, err = metrics.New(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	blobs, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	llmClient, err := openai.NewClient(openai.ConfigFrom(cfg.LLM), logger)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	a := &App{
		Cfg:     cfg,
		Logger:  logger,
		DB:      db,
		Metrics: m,
		Staged:  repository.NewStagingRepository(db, logger),
		Records: repository.NewRecordRepository(db, logger),
		Schemas: repository.NewCustomSchemaRepository(db, logger),
	}
	attachments := repository.NewAttachmentRepository(db, logger)
	text := textract.NewExtractor(cfg.Pipeline.PdftotextPath, nil, logger)

	a.Staging = staging.NewManager(a.Staged, logger,
		staging.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		staging.WithRecorder(m))
	a.Composer = schema.NewComposer(a.Schemas, logger)
	a.Ingest = ingest.NewService(dedup.NewDetector(attachments, logger), attachments, a.Staged, blobs,
		cfg.Pipeline.MaxAttempts, logger,
		ingest.WithTextExtractor(text),
		ingest.WithDuplicateRecorder(m))
	a.Processor = pipeline.NewProcessor(pipeline.Config{
		BackendTimeout: cfg.Pipeline.BackendTimeout,
		RequiredFields: cfg.Pipeline.RequiredFields,
		TextBatchSize:  cfg.Pipeline.TextBatchSize,
	}, pipeline.Deps{
		Status:    a.Staging,
		Records:   a.Records,
		Schemas:   a.Composer,
		Blobs:     blobs,
		Validator: validate.New(logger),
		OCR:       ocr.New(cfg.OCR, logger),
		LLM:       llmClient,
		Text:      text,
		Observer:  m,
	}, logger)
	a.Export = export.NewService(a.Records, logger)
	return a, nil
}

// Scheduler returns a scheduler over the app's processor and staging store.
func (a *App) Scheduler() *scheduler.Scheduler {
	p := a.Cfg.Pipeline
	return scheduler.New(scheduler.Config{
		PollInterval:   p.PollInterval,
		PollLimit:      p.PollLimit,
		Workers:        p.Workers,
		StaleAfter:     p.StaleAfter,
		ProcessTimeout: p.BackendTimeout * 3,
		BatchText:      p.TextBatchSize > 1,
	}, a.Processor, a.Staged, a.Staging, a.Logger, scheduler.WithReclaimRecorder(a.Metrics))
}

// WatchOwner parses the configured inbox owner.
func (a *App) WatchOwner() (uuid.UUID, error) {
	return uuid.Parse(a.Cfg.Ingest.WatchOwner)
}

func (a *App) Close() {
	a.DB.Close()
}

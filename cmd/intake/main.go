// Command intake is the operator CLI: stage documents, run a processing pass,
// requeue failures, manage custom schemas and export records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/constants"
	"github.com/joseph-ayodele/expense-intake/internal/app"
	"github.com/joseph-ayodele/expense-intake/internal/common"
	"github.com/joseph-ayodele/expense-intake/internal/entity"
	"github.com/joseph-ayodele/expense-intake/internal/ingest"
	"github.com/joseph-ayodele/expense-intake/internal/repository"
	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

const usage = `usage: intake <command> [flags]

commands:
  migrate                       create or update the database schema
  health                        ping the database and report pending work
  ingest   -owner ID (-file F | -dir D | -email-id ID -body F [-subject S])
  process  [-id ID]             run one processing pass, or one document
  status   -owner ID [-status S] [-limit N]
  requeue  -id ID [-reset]      move a failed document back to pending
  schema   -owner ID [-set fields.json]
  export   -owner ID [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-out file.xlsx]
`

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	if len(os.Args) < 2 {
		printError("%s", usage)
		os.Exit(2)
	}
	cfg := common.LoadConfig()
	if cfg.Log.Format == "json" && os.Getenv("LOG_FORMAT") == "" {
		cfg.Log.Format = "text"
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = common.WithRequestID(ctx, uuid.NewString())

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "health":
		err = runHealth(ctx, cfg, logger)
	case "ingest", "process", "status", "requeue", "schema", "export":
		err = withApp(ctx, cfg, logger, func(a *app.App) error {
			switch cmd {
			case "ingest":
				return runIngest(ctx, a, args)
			case "process":
				return runProcess(ctx, a, args)
			case "status":
				return runStatus(ctx, a, args)
			case "requeue":
				return runRequeue(ctx, a, args)
			case "schema":
				return runSchema(ctx, a, args)
			default:
				return runExport(ctx, a, args)
			}
		})
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		printError("unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Debug("command failed", "command", cmd, "code", common.Code(err), "error", err)
		printError("Error: %v\n", err)
		if errors.Is(err, common.ErrInvalidInput) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func withApp(ctx context.Context, cfg *common.Config, logger *slog.Logger, fn func(*app.App) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runMigrate(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	if cfg.Database.DSN == "" {
		return common.NewAppError("CONFIG_ERROR", "DB_URL is required", common.ErrInvalidInput)
	}
	db, err := repository.Open(ctx, repository.Config{DSN: cfg.Database.DSN, MaxConns: 2, DialTimeout: cfg.Database.DialTimeout}, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runHealth(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	if cfg.Database.DSN == "" {
		return common.NewAppError("CONFIG_ERROR", "DB_URL is required", common.ErrInvalidInput)
	}
	db, err := repository.Open(ctx, repository.Config{DSN: cfg.Database.DSN, MaxConns: 2, DialTimeout: cfg.Database.DialTimeout}, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.HealthCheck(ctx, time.Second); err != nil {
		return fmt.Errorf("DB health: FAIL: %w", err)
	}
	fmt.Println("DB health: OK")

	pending, err := repository.NewStagingRepository(db, logger).ListPending(ctx, cfg.Pipeline.PollLimit)
	if err != nil {
		return err
	}
	fmt.Printf("pending documents (first %d): %d\n", cfg.Pipeline.PollLimit, len(pending))
	return nil
}

func runIngest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (required)")
	file := fs.String("file", "", "single file to stage")
	dir := fs.String("dir", "", "directory to stage recursively")
	docType := fs.String("type", "", "document type hint, e.g. invoice")
	emailID := fs.String("email-id", "", "email id for an email body")
	body := fs.String("body", "", "file holding the email body (HTML or text)")
	subject := fs.String("subject", "", "email subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ownerID, err := parseID("owner", *owner)
	if err != nil {
		return err
	}

	switch {
	case *file != "":
		res, err := a.Ingest.IngestPath(ctx, ownerID, *file, *docType)
		if err != nil {
			return err
		}
		return printJSON(res)
	case *dir != "":
		results, stats, err := a.Ingest.IngestDirectory(ctx, ownerID, *dir, ingest.DirOptions{
			SkipHidden:   true,
			Concurrency:  a.Cfg.Ingest.Concurrency,
			DocumentType: *docType,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != "" {
				printError("%s: %s\n", r.Path, r.Err)
			}
		}
		return printJSON(stats)
	case *emailID != "":
		eid, err := parseID("email-id", *emailID)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(*body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		res, err := a.Ingest.IngestEmailBody(ctx, ingest.EmailBodyRequest{
			OwnerID:      ownerID,
			EmailID:      eid,
			Subject:      *subject,
			Body:         string(data),
			DocumentType: *docType,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	default:
		return fmt.Errorf("one of -file, -dir or -email-id is required: %w", common.ErrInvalidInput)
	}
}

func runProcess(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	id := fs.String("id", "", "process a single staged document")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id != "" {
		stagedID, err := parseID("id", *id)
		if err != nil {
			return err
		}
		res, err := a.Processor.Process(ctx, stagedID)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	sum, err := a.Scheduler().RunOnce(ctx)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func runStatus(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (required)")
	status := fs.String("status", "", "pending, in_progress, completed or failed")
	limit := fs.Int("limit", 50, "maximum documents")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ownerID, err := parseID("owner", *owner)
	if err != nil {
		return err
	}
	var st constants.StagingStatus
	if *status != "" {
		if st, err = constants.ParseStatus(*status); err != nil {
			return fmt.Errorf("%w: %w", err, common.ErrInvalidInput)
		}
	}
	docs, err := a.Staged.ListByOwner(ctx, ownerID, st, *limit)
	if err != nil {
		return err
	}
	for _, d := range docs {
		lastErr := ""
		if d.LastError != nil {
			lastErr = *d.LastError
		}
		fmt.Printf("%s\t%-11s\t%d/%d\t%s\t%s\n", d.ID, d.Status, d.Attempts, d.MaxAttempts, d.Filename, lastErr)
	}
	return nil
}

func runRequeue(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("requeue", flag.ContinueOnError)
	id := fs.String("id", "", "staged document id (required)")
	reset := fs.Bool("reset", false, "reset the attempt counter (default allows one more attempt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stagedID, err := parseID("id", *id)
	if err != nil {
		return err
	}
	doc, err := a.Staging.Requeue(ctx, stagedID, *reset)
	if err != nil {
		return err
	}
	fmt.Printf("%s requeued (%d/%d attempts used)\n", doc.ID, doc.Attempts, doc.MaxAttempts)
	return nil
}

func runSchema(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (required)")
	set := fs.String("set", "", "JSON file with a list of custom fields to activate")
	name := fs.String("name", "custom", "schema name used with -set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ownerID, err := parseID("owner", *owner)
	if err != nil {
		return err
	}

	if *set != "" {
		data, err := os.ReadFile(*set)
		if err != nil {
			return fmt.Errorf("read fields: %w", err)
		}
		var fields []entity.CustomField
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("parse fields: %w: %w", err, common.ErrInvalidInput)
		}
		for i, f := range fields {
			if _, ok := schema.CustomFieldDescriptor(f); !ok {
				return fmt.Errorf("field %d has no usable name: %w", i, common.ErrInvalidInput)
			}
		}
		now := time.Now().UTC()
		if err := a.Schemas.Activate(ctx, &entity.CustomSchema{
			ID:        uuid.New(),
			OwnerID:   ownerID,
			Name:      *name,
			Fields:    fields,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}

	def := a.Composer.Compose(ctx, ownerID)
	return printJSON(map[string]any{
		"fingerprint": def.Fingerprint(),
		"custom":      def.CustomFields(),
		"schema":      def.JSONSchema(),
	})
}

func runExport(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (required)")
	fromStr := fs.String("from", "", "from date YYYY-MM-DD")
	toStr := fs.String("to", "", "to date YYYY-MM-DD")
	out := fs.String("out", "expenses.xlsx", "output XLSX file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ownerID, err := parseID("owner", *owner)
	if err != nil {
		return err
	}
	from, err := parseDate("from", *fromStr)
	if err != nil {
		return err
	}
	to, err := parseDate("to", *toStr)
	if err != nil {
		return err
	}

	data, err := a.Export.ExportXLSX(ctx, ownerID, from, to)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
	return nil
}

func parseID(flagName, v string) (uuid.UUID, error) {
	if v == "" {
		return uuid.Nil, fmt.Errorf("-%s is required: %w", flagName, common.ErrInvalidInput)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-%s: %w: %w", flagName, err, common.ErrInvalidInput)
	}
	return id, nil
}

func parseDate(flagName, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("-%s must be YYYY-MM-DD: %w", flagName, common.ErrInvalidInput)
	}
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

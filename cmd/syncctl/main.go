package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/datakeel/mssql-pg-sync/internal/config"
	"github.com/datakeel/mssql-pg-sync/internal/history"
	"github.com/datakeel/mssql-pg-sync/internal/logging"
	"github.com/datakeel/mssql-pg-sync/internal/migrate"
	"github.com/datakeel/mssql-pg-sync/internal/notify"
	"github.com/datakeel/mssql-pg-sync/internal/progress"
	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
	"github.com/datakeel/mssql-pg-sync/internal/version"
	"github.com/datakeel/mssql-pg-sync/internal/worker"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   "MSSQL to PostgreSQL batch migration and incremental sync",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate a migration command without writing anything",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "command", Required: true, Usage: "Path to migration command YAML"},
				},
				Action: runValidate,
			},
			{
				Name:  "migrate",
				Usage: "Execute a migration command",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "command", Required: true, Usage: "Path to migration command YAML"},
					&cli.BoolFlag{Name: "no-progress", Usage: "Disable the progress bar"},
				},
				Action: runMigrate,
			},
			{
				Name:  "sync",
				Usage: "Run one incremental sync pass for a table pair",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "worker", Usage: "Run a stored worker by id"},
					&cli.StringFlag{Name: "source-table", Usage: "Source table as schema.table"},
					&cli.StringFlag{Name: "target-table", Usage: "Target table as schema.table"},
					&cli.StringFlag{Name: "pk", Usage: "Primary key column"},
					&cli.IntFlag{Name: "batch-size", Usage: "Rows per batch (default from config)"},
					&cli.IntFlag{Name: "max-seconds", Usage: "Wall-clock budget; 0 means unbounded"},
				},
				Action: runSync,
			},
			{
				Name:  "workers",
				Usage: "Manage stored sync workers",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "List all workers", Action: workersList},
					{
						Name:  "upsert",
						Usage: "Create or update a worker by table-pair identity",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "source-table", Required: true, Usage: "Source table as schema.table"},
							&cli.StringFlag{Name: "target-table", Required: true, Usage: "Target table as schema.table"},
							&cli.StringFlag{Name: "pk", Usage: "Primary key column (auto-detected when omitted)"},
							&cli.IntFlag{Name: "interval", Usage: "Scheduling interval in seconds"},
							&cli.StringFlag{Name: "owner", Usage: "Owning team or person"},
							&cli.BoolFlag{Name: "notify-success", Usage: "Post to Slack on success"},
							&cli.BoolFlag{Name: "notify-error", Usage: "Post to Slack on failure"},
						},
						Action: workersUpsert,
					},
					{
						Name:   "preview",
						Usage:  "Show what a sync pass would do, without running it",
						Flags:  []cli.Flag{&cli.Int64Flag{Name: "id", Required: true}},
						Action: workersPreview,
					},
					{
						Name:  "trigger",
						Usage: "Run a worker's sync pass now",
						Flags: []cli.Flag{
							&cli.Int64Flag{Name: "id", Required: true},
							&cli.IntFlag{Name: "max-seconds", Usage: "Wall-clock budget; 0 means unbounded"},
						},
						Action: workersTrigger,
					},
					{
						Name:   "enable",
						Usage:  "Enable a worker",
						Flags:  []cli.Flag{&cli.Int64Flag{Name: "id", Required: true}},
						Action: workersSetEnabled(true),
					},
					{
						Name:   "disable",
						Usage:  "Disable a worker",
						Flags:  []cli.Flag{&cli.Int64Flag{Name: "id", Required: true}},
						Action: workersSetEnabled(false),
					},
					{
						Name:   "delete",
						Usage:  "Delete a worker's state row",
						Flags:  []cli.Flag{&cli.Int64Flag{Name: "id", Required: true}},
						Action: workersDelete,
					},
				},
			},
			{
				Name:  "history",
				Usage: "List past runs, or show one run in detail",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "Show details for a specific run ID"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Number of runs to list"},
				},
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env bundles everything a command needs: config, both database clients,
// the engine, and the side stores.
type env struct {
	cfg      *config.Config
	src      *source.Pool
	tgt      *target.Client
	workers  *worker.Store
	engine   *migrate.Engine
	hist     *history.Store
	notifier *notify.Notifier
}

func setup(ctx context.Context, c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(lvl)
	logging.SetFormat(cfg.Logging.Format)

	src, err := source.NewPool(cfg.SourceDSN(), cfg.Source.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to source: %w", err)
	}
	tgt, err := target.NewClient(ctx, cfg.TargetDSN(), cfg.Target.MaxConns)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("connecting to target: %w", err)
	}

	workers := worker.NewStore(tgt)
	if err := workers.EnsureTable(ctx); err != nil {
		src.Close()
		tgt.Close()
		return nil, err
	}

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		src.Close()
		tgt.Close()
		return nil, err
	}

	notifier := notify.New(&notify.SlackConfig{
		Enabled:    cfg.Slack.Enabled,
		WebhookURL: cfg.Slack.WebhookURL,
		Channel:    cfg.Slack.Channel,
		Username:   cfg.Slack.Username,
	})

	return &env{
		cfg:      cfg,
		src:      src,
		tgt:      tgt,
		workers:  workers,
		engine:   migrate.New(src, tgt, workers),
		hist:     hist,
		notifier: notifier,
	}, nil
}

func (e *env) close() {
	e.hist.Close()
	e.tgt.Close()
	e.src.Close()
}

// signalContext cancels on SIGINT/SIGTERM so a batch boundary becomes the
// stopping point instead of a killed transaction.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Finishing current batch...")
		cancel()
	}()
	return ctx, cancel
}

func loadCommand(path string) (*migrate.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command file: %w", err)
	}
	var cmd migrate.Command
	if err := yaml.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("parsing command file: %w", err)
	}
	return &cmd, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runValidate(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	cmd, err := loadCommand(c.String("command"))
	if err != nil {
		return err
	}
	res, err := e.engine.Validate(ctx, cmd)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runMigrate(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	cmd, err := loadCommand(c.String("command"))
	if err != nil {
		return err
	}
	if cmd.BatchSize == 0 {
		cmd.BatchSize = e.cfg.Sync.BatchSize
	}

	src := migrate.NormalizeEndpoint(cmd.Source, e.cfg.Source.Database)
	tgt := migrate.NormalizeEndpoint(cmd.Target, "")
	pair := fmt.Sprintf("%s.%s -> %s.%s", src.Schema, src.Table, tgt.Schema, tgt.Table)

	var tracker *progress.Tracker
	if !c.Bool("no-progress") {
		tracker = progress.New()
		vr, err := e.engine.Validate(ctx, cmd)
		if err != nil {
			return err
		}
		total := int64(-1)
		if vr.EstimatedRows != nil {
			total = *vr.EstimatedRows
		}
		tracker.SetTotal(total)
		e.engine.OnBatch = func(batch, fetched int, inserted int64) {
			tracker.Add(int64(fetched))
		}
	}

	runID, err := e.hist.RecordStart(ctx, "migrate", pair, tgt.Schema+"."+tgt.Table)
	if err != nil {
		return err
	}
	started := time.Now()

	res, runErr := e.engine.Run(ctx, cmd)
	if tracker != nil {
		tracker.Finish()
	}

	if runErr != nil {
		if herr := e.hist.Complete(ctx, runID, 0, 0, runErr.Error()); herr != nil {
			logging.Error("Failed to record run history: %v", herr)
		}
		if nerr := e.notifier.MigrationFailed(runID, pair, runErr, time.Since(started)); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		return runErr
	}

	if herr := e.hist.Complete(ctx, runID, res.RowsInserted, res.Batches, ""); herr != nil {
		logging.Error("Failed to record run history: %v", herr)
	}
	if nerr := e.notifier.MigrationCompleted(runID, pair, res.RowsInserted, res.Batches, time.Since(started)); nerr != nil {
		logging.Warn("Slack notification failed: %v", nerr)
	}
	return printJSON(res)
}

// splitTable parses "schema.table", applying def when no schema is given.
func splitTable(s, def string) (schema, table string) {
	if before, after, found := strings.Cut(s, "."); found {
		return before, after
	}
	return def, s
}

func runSync(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	if c.IsSet("worker") {
		w, err := e.workers.Get(ctx, c.Int64("worker"))
		if err != nil {
			return err
		}
		return syncWorker(ctx, e, w, c.Int("max-seconds"))
	}

	if c.String("source-table") == "" || c.String("target-table") == "" || c.String("pk") == "" {
		return fmt.Errorf("either --worker or all of --source-table, --target-table, --pk are required")
	}

	srcSchema, srcTable := splitTable(c.String("source-table"), "dbo")
	tgtSchema, tgtTable := splitTable(c.String("target-table"), "public")

	batchSize := c.Int("batch-size")
	if batchSize == 0 {
		batchSize = e.cfg.Sync.BatchSize
	}

	req := migrate.SyncRequest{
		SourceDatabase: e.cfg.Source.Database,
		SourceSchema:   srcSchema,
		SourceTable:    srcTable,
		TargetSchema:   tgtSchema,
		TargetTable:    tgtTable,
		PKColumn:       c.String("pk"),
		BatchSize:      batchSize,
		MaxSeconds:     c.Int("max-seconds"),
	}
	return runSyncRequest(ctx, e, req, nil)
}

// syncWorker runs a stored worker's pass and honors its notify flags.
func syncWorker(ctx context.Context, e *env, w *worker.Worker, maxSeconds int) error {
	req := migrate.SyncRequest{
		SourceDatabase: w.SourceDatabase,
		SourceSchema:   w.SourceSchema,
		SourceTable:    w.SourceTable,
		TargetSchema:   w.TargetSchema,
		TargetTable:    w.TargetTable,
		PKColumn:       w.PKColumn,
		BatchSize:      e.cfg.Sync.BatchSize,
		WorkerID:       &w.ID,
		MaxSeconds:     maxSeconds,
	}
	return runSyncRequest(ctx, e, req, w)
}

func runSyncRequest(ctx context.Context, e *env, req migrate.SyncRequest, w *worker.Worker) error {
	pair := fmt.Sprintf("%s.%s -> %s.%s",
		req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable)

	runID, err := e.hist.RecordStart(ctx,
		"sync", req.SourceSchema+"."+req.SourceTable, req.TargetSchema+"."+req.TargetTable)
	if err != nil {
		return err
	}
	started := time.Now()

	res, runErr := e.engine.RunIncremental(ctx, req)

	if runErr != nil {
		if herr := e.hist.Complete(ctx, runID, 0, 0, runErr.Error()); herr != nil {
			logging.Error("Failed to record run history: %v", herr)
		}
		if w == nil || w.NotifyOnError {
			if nerr := e.notifier.SyncFailed(pair, runErr, time.Since(started)); nerr != nil {
				logging.Warn("Slack notification failed: %v", nerr)
			}
		}
		return runErr
	}

	if herr := e.hist.Complete(ctx, runID, res.RowsInserted, res.Batches, ""); herr != nil {
		logging.Error("Failed to record run history: %v", herr)
	}
	if w != nil && w.NotifyOnSuccess {
		if nerr := e.notifier.SyncSucceeded(pair, res.RowsInserted, res.Batches,
			res.NewTargetMaxPK, time.Since(started)); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
	}
	return printJSON(res)
}

func workersList(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	workers, err := e.workers.List(ctx)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Println("No workers configured.")
		return nil
	}
	for _, w := range workers {
		state := "enabled"
		if !w.Enabled {
			state = "disabled"
		}
		lastRun := "never"
		if w.LastRunFinishedAt != nil {
			lastRun = fmt.Sprintf("%s (%s)", w.LastRunFinishedAt.Format(time.RFC3339), w.LastRunStatus)
		}
		fmt.Printf("%4d  %-8s  %s.%s -> %s.%s  pk=%s  every %ds  last run: %s\n",
			w.ID, state, w.SourceSchema, w.SourceTable, w.TargetSchema, w.TargetTable,
			w.PKColumn, w.IntervalSeconds, lastRun)
	}
	return nil
}

func workersUpsert(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	srcSchema, srcTable := splitTable(c.String("source-table"), "dbo")
	tgtSchema, tgtTable := splitTable(c.String("target-table"), "public")

	p := worker.UpsertParams{
		Identity: worker.Identity{
			SourceDatabase: e.cfg.Source.Database,
			SourceSchema:   srcSchema,
			SourceTable:    srcTable,
			TargetSchema:   tgtSchema,
			TargetTable:    tgtTable,
		},
		PKColumn: c.String("pk"),
	}
	if c.IsSet("interval") {
		v := c.Int("interval")
		p.IntervalSeconds = &v
	}
	if c.IsSet("owner") {
		v := c.String("owner")
		p.Owner = &v
	}
	if c.IsSet("notify-success") {
		v := c.Bool("notify-success")
		p.NotifyOnSuccess = &v
	}
	if c.IsSet("notify-error") {
		v := c.Bool("notify-error")
		p.NotifyOnError = &v
	}

	w, err := e.workers.Upsert(ctx, p, e.src)
	if err != nil {
		return err
	}
	return printJSON(w)
}

func workersPreview(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.workers.Get(ctx, c.Int64("id"))
	if err != nil {
		return err
	}
	p, err := e.workers.PreviewRun(ctx, w, e.src, e.tgt)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func workersTrigger(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	w, err := e.workers.Get(ctx, c.Int64("id"))
	if err != nil {
		return err
	}
	return syncWorker(ctx, e, w, c.Int("max-seconds"))
}

func workersSetEnabled(enabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()

		e, err := setup(ctx, c)
		if err != nil {
			return err
		}
		defer e.close()

		w, err := e.workers.Get(ctx, c.Int64("id"))
		if err != nil {
			return err
		}
		_, err = e.workers.Upsert(ctx, worker.UpsertParams{
			Identity: w.Identity,
			Enabled:  &enabled,
		}, e.src)
		if err != nil {
			return err
		}
		fmt.Printf("Worker %d %s\n", w.ID, map[bool]string{true: "enabled", false: "disabled"}[enabled])
		return nil
	}
}

func workersDelete(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.close()

	id := c.Int64("id")
	if err := e.workers.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Worker %d deleted\n", id)
	return nil
}

func showHistory(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer hist.Close()

	if runID := c.String("run"); runID != "" {
		run, err := hist.Get(ctx, runID)
		if err != nil {
			return err
		}
		return printJSON(run)
	}

	runs, err := hist.List(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-7s  %-6s  %s -> %s  %d rows / %d batches\n",
			r.StartedAt.Format(time.RFC3339), r.Kind, r.Status, r.Source, r.Target,
			r.RowsInserted, r.Batches)
	}
	return nil
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"

	"github.com/helios-ml/batchinfer/internal/batch"
	"github.com/helios-ml/batchinfer/internal/config"
	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/jobsclient"
	"github.com/helios-ml/batchinfer/internal/platform/env"
	platformstore "github.com/helios-ml/batchinfer/internal/platform/objectstore"
	"github.com/helios-ml/batchinfer/internal/registry/postgres"
	"github.com/helios-ml/batchinfer/internal/storage/objectstore"
)

type ui struct {
	ok   func(a ...any) string
	info func(a ...any) string
	warn func(a ...any) string
	err  func(a ...any) string
	dim  func(a ...any) string
}

func newUI() *ui {
	return &ui{
		ok:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		info: color.New(color.FgCyan).SprintFunc(),
		warn: color.New(color.FgYellow).SprintFunc(),
		err:  color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:  color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	slog.SetDefault(logger)
	u := newUI()

	var configPath string

	root := &cobra.Command{
		Use:           "batchinfer",
		Short:         "Batch inference workflow CLI",
		Long:          "batchinfer collects a text corpus into a batch input file, submits an asynchronous inference job, waits for it, and retrieves the outputs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "batchinfer.yaml", "Pipeline config file")

	root.AddCommand(
		initCmd(&configPath, u),
		submitCmd(&configPath, logger, u),
		statusCmd(u),
		waitCmd(&configPath, logger, u),
		fetchCmd(u),
		runCmd(&configPath, logger, u),
		migrateCmd(u),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, u.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(configPath *string, u *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Create the source, input and output buckets",
		Example: "batchinfer init --config batchinfer.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			storeCfg, err := platformstore.ConfigFromEnv()
			if err != nil {
				return err
			}
			client, err := platformstore.NewMinIOClient(storeCfg)
			if err != nil {
				return err
			}
			buckets := pipelineBuckets(cfg)
			if err := platformstore.EnsureBuckets(ctx, client, storeCfg.Region, buckets...); err != nil {
				return err
			}
			fmt.Printf("%s Buckets ready: %s\n", u.ok("[OK]"), strings.Join(buckets, ", "))
			return nil
		},
	}
}

func submitCmd(configPath *string, logger *slog.Logger, u *ui) *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Collect the source corpus and submit a batch job",
		Example: "batchinfer submit --config batchinfer.yaml --batch-id nightly-2026-08-24",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, client, err := buildObjectStore()
			if err != nil {
				return err
			}
			if err := platformstore.CheckBuckets(ctx, client, pipelineBuckets(cfg)...); err != nil {
				return err
			}
			jobs, err := buildJobs()
			if err != nil {
				return err
			}
			registry, closeRegistry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			collector, err := batch.NewCollector(store, cfg.Source.Bucket, cfg.Source.Prefix, cfg.Prompt.Template, cfg.GenerationParams())
			if err != nil {
				return err
			}
			submitter, err := batch.NewSubmitter(store, jobs, registry, submitConfig(cfg), logger)
			if err != nil {
				return err
			}

			spin := newSpinner(" Collecting sources...")
			spin.Start()
			requests, err := collector.Collect(ctx)
			spin.Stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s Collected %d records from s3://%s/%s\n", u.info("[INFO]"), len(requests), cfg.Source.Bucket, cfg.Source.Prefix)

			spin = newSpinner(" Submitting batch job...")
			spin.Start()
			job, err := submitter.Submit(ctx, batchID, requests)
			spin.Stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s Job submitted: %s (batch %s)\n", u.ok("[OK]"), job.ID, job.BatchID)
			fmt.Printf("%s Input:  %s\n", u.dim("•"), job.InputLocation.String())
			fmt.Printf("%s Output: %s\n", u.dim("•"), job.OutputLocation.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier (generated when empty)")
	return cmd
}

func statusCmd(u *ui) *cobra.Command {
	var byBatch bool

	cmd := &cobra.Command{
		Use:     "status <id>",
		Short:   "Show the current status of a job",
		Args:    cobra.ExactArgs(1),
		Example: "batchinfer status 9f1c2a\nbatchinfer status --batch nightly-2026-08-24",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if byBatch {
				dbCfg, err := postgres.ConfigFromEnv()
				if err != nil {
					return err
				}
				db, err := postgres.Open(ctx, dbCfg)
				if err != nil {
					return err
				}
				defer db.Close()

				job, err := postgres.NewJobStore(db).GetByBatchID(ctx, args[0])
				if err != nil {
					return err
				}
				printJob(u, job)
				return nil
			}

			jobs, err := buildJobs()
			if err != nil {
				return err
			}
			job, err := jobs.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			printJob(u, job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&byBatch, "batch", false, "Treat the argument as a batch id and look it up in the registry")
	return cmd
}

func waitCmd(configPath *string, logger *slog.Logger, u *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "wait <job-id>",
		Short:   "Wait until a job reaches a terminal status",
		Args:    cobra.ExactArgs(1),
		Example: "batchinfer wait 9f1c2a",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			jobs, err := buildJobs()
			if err != nil {
				return err
			}
			registry, closeRegistry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			poller, err := batch.NewPoller(jobs, registry, pollConfig(cfg), logger)
			if err != nil {
				return err
			}

			spin := newSpinner(" Waiting for job " + args[0] + "...")
			spin.Start()
			job, err := poller.Wait(ctx, args[0])
			spin.Stop()

			var failed *domain.JobFailedError
			if errors.As(err, &failed) {
				printJob(u, job)
				return err
			}
			if err != nil {
				return err
			}
			printJob(u, job)
			return nil
		},
	}
}

func fetchCmd(u *ui) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:     "fetch <job-id>",
		Short:   "Download the outputs of a completed job",
		Args:    cobra.ExactArgs(1),
		Example: "batchinfer fetch 9f1c2a --output results.jsonl",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, err := buildObjectStore()
			if err != nil {
				return err
			}
			jobs, err := buildJobs()
			if err != nil {
				return err
			}
			job, err := jobs.GetJob(ctx, args[0])
			if err != nil {
				return err
			}

			retriever, err := batch.NewRetriever(store, slog.Default())
			if err != nil {
				return err
			}
			spin := newSpinner(" Fetching outputs...")
			spin.Start()
			manifest, records, err := retriever.Fetch(ctx, job)
			spin.Stop()
			if err != nil {
				return err
			}
			if err := writeRecords(outputPath, records); err != nil {
				return err
			}
			printManifest(u, manifest)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "Write output records to this file (stdout when empty)")
	return cmd
}

func runCmd(configPath *string, logger *slog.Logger, u *ui) *cobra.Command {
	var (
		batchID    string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the whole workflow: collect, submit, wait, fetch",
		Example: "batchinfer run --config batchinfer.yaml --output results.jsonl",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, client, err := buildObjectStore()
			if err != nil {
				return err
			}
			if err := platformstore.CheckBuckets(ctx, client, pipelineBuckets(cfg)...); err != nil {
				return err
			}
			jobs, err := buildJobs()
			if err != nil {
				return err
			}
			registry, closeRegistry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			collector, err := batch.NewCollector(store, cfg.Source.Bucket, cfg.Source.Prefix, cfg.Prompt.Template, cfg.GenerationParams())
			if err != nil {
				return err
			}
			submitter, err := batch.NewSubmitter(store, jobs, registry, submitConfig(cfg), logger)
			if err != nil {
				return err
			}
			poller, err := batch.NewPoller(jobs, registry, pollConfig(cfg), logger)
			if err != nil {
				return err
			}
			retriever, err := batch.NewRetriever(store, logger)
			if err != nil {
				return err
			}
			pipeline, err := batch.NewPipeline(collector, submitter, poller, retriever, logger)
			if err != nil {
				return err
			}

			spin := newSpinner(" Running batch workflow...")
			spin.Start()
			result, err := pipeline.Run(ctx, batchID)
			spin.Stop()
			if err != nil {
				return err
			}

			if err := writeRecords(outputPath, result.Records); err != nil {
				return err
			}
			printJob(u, result.Job)
			printManifest(u, result.Manifest)
			return nil
		},
	}
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier (generated when empty)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write output records to this file (stdout when empty)")
	return cmd
}

func migrateCmd(u *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job registry schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbCfg, err := postgres.ConfigFromEnv()
			if err != nil {
				return err
			}
			db, err := postgres.Open(ctx, dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.NewJobStore(db).Migrate(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Registry schema applied\n", u.ok("[OK]"))
			return nil
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(env.String("BATCHINFER_LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newSpinner(suffix string) *spinner.Spinner {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = suffix
	return spin
}

func buildObjectStore() (*objectstore.MinioStore, *minio.Client, error) {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	client, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		return nil, nil, err
	}
	return store, client, nil
}

func buildJobs() (*jobsclient.Client, error) {
	jobsCfg, err := jobsclient.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return jobsclient.New(jobsCfg)
}

func pipelineBuckets(cfg config.Config) []string {
	return []string{cfg.Source.Bucket, cfg.Batch.InputBucket, cfg.Batch.OutputBucket}
}

// buildRegistry returns a nil Registry when no database is configured; the
// workflow then runs without persistence.
func buildRegistry(ctx context.Context) (batch.Registry, func(), error) {
	if env.String("BATCHINFER_DATABASE_URL", "") == "" {
		return nil, func() {}, nil
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewJobStore(db), closer(db), nil
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func submitConfig(cfg config.Config) batch.SubmitConfig {
	return batch.SubmitConfig{
		InputBucket:   cfg.Batch.InputBucket,
		InputPrefix:   cfg.Batch.InputPrefix,
		OutputBucket:  cfg.Batch.OutputBucket,
		OutputPrefix:  cfg.Batch.OutputPrefix,
		ModelID:       cfg.Model.ID,
		ExecutionRole: cfg.Batch.ExecutionRole,
	}
}

func pollConfig(cfg config.Config) batch.PollConfig {
	return batch.PollConfig{
		Policy:       cfg.Poll.Policy,
		BaseInterval: cfg.Poll.BaseInterval.Std(),
		MaxInterval:  cfg.Poll.MaxInterval.Std(),
		Deadline:     cfg.Poll.Deadline.Std(),
	}
}

func writeRecords(path string, records []domain.OutputRecord) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record %s: %w", rec.RecordID, err)
		}
	}
	return nil
}

func printJob(u *ui, job domain.Job) {
	fmt.Printf("%s Job %s: %s\n", u.info("[INFO]"), job.ID, statusLabel(u, job.Status))
	if job.BatchID != "" {
		fmt.Printf("%s Batch:  %s\n", u.dim("•"), job.BatchID)
	}
	if job.ModelID != "" {
		fmt.Printf("%s Model:  %s\n", u.dim("•"), job.ModelID)
	}
	if job.InputLocation != (domain.Location{}) {
		fmt.Printf("%s Input:  %s\n", u.dim("•"), job.InputLocation.String())
	}
	if job.OutputLocation != (domain.Location{}) {
		fmt.Printf("%s Output: %s\n", u.dim("•"), job.OutputLocation.String())
	}
	if job.FailureMessage != "" {
		fmt.Printf("%s Detail: %s\n", u.err("•"), job.FailureMessage)
	}
}

func printManifest(u *ui, manifest domain.Manifest) {
	fmt.Printf("%s Records: %d total, %s %d, %s %d\n",
		u.info("[INFO]"), manifest.TotalRecords,
		u.ok("ok"), manifest.SuccessCount,
		u.err("failed"), manifest.ErrorCount,
	)
	fmt.Printf("%s Tokens:  %d in, %d out\n", u.dim("•"), manifest.Usage.InputTokens, manifest.Usage.OutputTokens)
}

func statusLabel(u *ui, status domain.Status) string {
	switch status {
	case domain.StatusCompleted:
		return u.ok(string(status))
	case domain.StatusFailed:
		return u.err(string(status))
	case domain.StatusInProgress:
		return u.warn(string(status))
	default:
		return u.info(string(status))
	}
}

// Command worker runs the media analysis pipeline: a queue consumer that
// executes jobs (serve) plus operator commands to submit, inspect and retry
// them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/M4n3kiNek0/ai-video-analyzer/internal/config"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/media"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/pipeline"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/progress"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/providers"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/queue"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/sampler"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/storage"
	"github.com/M4n3kiNek0/ai-video-analyzer/internal/vision"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Background analysis pipeline for screen recordings and meeting audio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newSubmitCommand(),
		newStatusCommand(),
		newRetryCommand(),
	)
	return root
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	}))
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline worker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	ffmpeg, err := media.New()
	if err != nil {
		return err
	}

	provider, err := providers.New(providers.Settings{
		Variant:        providers.Variant(cfg.Provider),
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		ChatModel:      cfg.ChatModel,
		VisionModel:    cfg.VisionModel,
		WhisperModel:   cfg.WhisperModel,
		RequestTimeout: cfg.RequestTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	store, err := storage.New(cfg.PostgresURL, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()
	log.Info("postgres connected")

	objects, err := storage.NewObjects(ctx, storage.ObjectSettings{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	}, log)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	rdb, err := progress.ConnectRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()
	log.Info("redis connected")

	pipe := pipeline.New(pipeline.Deps{
		Media:       ffmpeg,
		Fetcher:     media.NewDownloader(cfg.DownloadMaxBytes, log),
		Sampler:     sampler.New(log),
		Transcriber: provider,
		Analyzer:    provider,
		Describer:   vision.NewMachine(provider, log),
		Store:       store,
		Uploader:    objects,
		Progress:    progress.NewRecorder(store, rdb, log),
	}, pipeline.Options{
		Sampling: sampler.Options{
			IntervalSeconds: cfg.SampleInterval,
			MinFrames:       cfg.MinFrames,
			MaxFrames:       cfg.MaxFrames,
			SceneThreshold:  cfg.SceneThreshold,
		},
		DedupThreshold:   cfg.DedupThreshold,
		TranscriptWindow: cfg.TranscriptWindow,
		WorkDir:          cfg.TempDir,
	}, log)

	server, err := queue.NewServer(queue.ServerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
	}, pipe, log)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("worker ready",
		"concurrency", cfg.WorkerConcurrency,
		"provider", cfg.Provider)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
		server.Shutdown()
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info("worker stopped")
	return nil
}

// withClient builds the store-backed queue client the operator commands
// share, then runs fn against it.
func withClient(fn func(ctx context.Context, client *queue.Client) error) error {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := storage.New(cfg.PostgresURL, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	client, err := queue.NewClient(cfg.RedisURL, store, log)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	defer client.Close()

	return fn(context.Background(), client)
}

func newSubmitCommand() *cobra.Command {
	var req queue.SubmitRequest
	cmd := &cobra.Command{
		Use:   "submit <media-path-or-url>",
		Short: "Queue a media file for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.MediaPath = args[0]
			return withClient(func(ctx context.Context, client *queue.Client) error {
				jobID, err := client.Submit(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), jobID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Context, "context", "", `what the recording shows, e.g. "CRM demo for the sales team"`)
	cmd.Flags().StringVar(&req.AnalysisMode, "mode", "auto", "analysis mode: auto, meeting, debrief, brainstorming or notes")
	cmd.Flags().StringVar(&req.Language, "language", "", "spoken language hint for transcription (ISO 639-1)")
	cmd.Flags().StringVar(&req.Queue, "queue", queue.QueueDefault, "target queue")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's stage and progress log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *queue.Client) error {
				status, err := client.GetStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status queue.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job:    %s\n", status.JobID)
	fmt.Fprintf(out, "stage:  %s\n", status.Stage)
	fmt.Fprintf(out, "media:  %s\n", status.MediaPath)
	if status.Error != "" {
		fmt.Fprintf(out, "error:  %s\n", status.Error)
	}
	if status.CompletedAt != nil {
		fmt.Fprintf(out, "done:   %s\n", status.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if len(status.Progress) == 0 {
		return
	}
	fmt.Fprintln(out, "progress:")
	for _, entry := range status.Progress {
		fmt.Fprintf(out, "  %s %-7s %s\n",
			entry.Timestamp.Format("15:04:05"), entry.Level, entry.Message)
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a failed job from the beginning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, client *queue.Client) error {
				if err := client.Retry(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s re-enqueued\n", args[0])
				return nil
			})
		},
	}
}

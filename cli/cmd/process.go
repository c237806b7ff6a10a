package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/motionforge/posepipe/adapter"
	adapterredis "github.com/motionforge/posepipe/adapter/redis"
	adapterwebhook "github.com/motionforge/posepipe/adapter/webhook"
	"github.com/motionforge/posepipe/config"
	"github.com/motionforge/posepipe/dispatch"
	"github.com/motionforge/posepipe/export"
	"github.com/motionforge/posepipe/log"
	"github.com/motionforge/posepipe/pipeline"
	"github.com/motionforge/posepipe/types"
)

// Exit codes for the process command.
const (
	exitSuccess      = 0
	exitPartial      = 1
	exitFailed       = 2
	exitInvalidInput = 3
)

// ProcessCommand returns the process command, the only command that
// executes work.
func ProcessCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run pose estimation over a directory of frame images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Directory of frame files, ordered by file name",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to posepipe.yaml",
			},
			&cli.StringFlag{
				Name:  "estimator",
				Usage: "Path to the pose estimator binary (overrides config)",
			},
			&cli.StringFlag{
				Name:  "job-id",
				Usage: "Job ID (default: random UUID)",
			},
			&cli.StringFlag{
				Name:  "video-id",
				Usage: "Video identifier carried through logs and events",
			},
			&cli.IntFlag{
				Name:  "attempt",
				Usage: "Attempt number (starts at 1)",
				Value: 1,
			},
			&cli.BoolFlag{
				Name:  "retry-rejected",
				Usage: "Retry queue-full rejections sequentially after the batch",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		},
		Action: processAction,
	}
}

// ProcessSummary is the rendered result of a process run.
type ProcessSummary struct {
	JobID        string `json:"job_id"`
	VideoID      string `json:"video_id,omitempty"`
	Outcome      string `json:"outcome"`
	TotalFrames  int    `json:"total_frames"`
	Accepted     int    `json:"accepted"`
	Rejected     int    `json:"rejected"`
	Absent       int    `json:"absent"`
	Interpolated int    `json:"interpolated"`
	Unavailable  int    `json:"unavailable"`
	FailedFrames int    `json:"failed_frames"`
	ExportKey    string `json:"export_key,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

func processAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInvalidInput)
	}

	payloads, err := readFrames(c.String("input"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read frames: %v", err), exitInvalidInput)
	}

	jobID := c.String("job-id")
	if jobID == "" {
		jobID = uuid.NewString()
	}
	meta := &types.JobMeta{
		JobID:   jobID,
		VideoID: c.String("video-id"),
		Attempt: c.Int("attempt"),
	}
	logger := log.NewLogger(meta)

	invoker, err := dispatch.NewSubprocessInvoker(dispatch.SubprocessConfig{
		EstimatorPath: cfg.Estimator.Path,
		Args:          cfg.Estimator.Args,
		ModelDir:      cfg.Estimator.ModelDir,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid estimator: %v", err), exitInvalidInput)
	}

	opts := pipeline.Options{
		Scheduler:     cfg.SchedulerConfig(),
		Thresholds:    cfg.Thresholds(),
		MaxGap:        cfg.MaxGap(),
		CacheCapacity: cfg.CacheCapacity(),
		RetryRejected: c.Bool("retry-rejected"),
		Logger:        logger,
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	if pub, err := buildAdapter(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), exitInvalidInput)
	} else if pub != nil {
		defer func() { _ = pub.Close() }()
		opts.Adapter = pub
	}

	if cfg.Export.Bucket != "" {
		sink, err := export.New(ctx, export.Config{
			Bucket:       cfg.Export.Bucket,
			Prefix:       cfg.Export.Prefix,
			Region:       cfg.Export.Region,
			Endpoint:     cfg.Export.Endpoint,
			UsePathStyle: cfg.Export.S3PathStyle,
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid export config: %v", err), exitInvalidInput)
		}
		opts.Exporter = sink
	}

	p, err := pipeline.New(invoker, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid pipeline options: %v", err), exitInvalidInput)
	}

	res, err := p.Process(ctx, meta, payloads)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	summary := summarize(meta, res)
	if !c.Bool("quiet") {
		printSummary(summary)
	}

	return cli.Exit("", outcomeToExitCode(summary.Outcome))
}

// loadConfig merges the optional config file with command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if estimator := c.String("estimator"); estimator != "" {
		cfg.Estimator.Path = estimator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFrames loads every regular file in dir, sorted by file name.
// File order defines frame numbering.
func readFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frame files in %s", dir)
	}
	sort.Strings(names)

	payloads := make([][]byte, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		payloads[i] = data
	}
	return payloads, nil
}

func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	retries := adapterredis.DefaultRetries
	if cfg.Adapter.Retries != nil {
		retries = *cfg.Adapter.Retries
	}

	switch cfg.Adapter.Type {
	case "":
		return nil, nil
	case "redis":
		return adapterredis.New(adapterredis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		return adapterwebhook.New(adapterwebhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}
}

func summarize(meta *types.JobMeta, res *pipeline.Result) *ProcessSummary {
	s := &ProcessSummary{
		JobID:        meta.JobID,
		VideoID:      meta.VideoID,
		Outcome:      res.Outcome(),
		TotalFrames:  len(res.Verdicts),
		FailedFrames: len(res.FrameErrors),
		ExportKey:    res.ExportKey,
		DurationMs:   res.Elapsed.Milliseconds(),
	}
	for _, v := range res.Verdicts {
		switch v {
		case types.VerdictAccepted:
			s.Accepted++
		case types.VerdictAbsent:
			s.Absent++
		default:
			s.Rejected++
		}
	}
	for _, e := range res.Entries {
		switch e.Kind {
		case types.EntryInterpolated:
			s.Interpolated++
		case types.EntryUnavailable:
			s.Unavailable++
		}
	}
	return s
}

func printSummary(s *ProcessSummary) {
	fmt.Printf("\njob_id=%s, outcome=%s, duration=%s\n",
		s.JobID, s.Outcome, (time.Duration(s.DurationMs) * time.Millisecond).String())

	fmt.Printf("\n=== Sequence ===\n")
	fmt.Printf("Total Frames:   %d\n", s.TotalFrames)
	fmt.Printf("Accepted:       %d\n", s.Accepted)
	fmt.Printf("Rejected:       %d\n", s.Rejected)
	fmt.Printf("Absent:         %d\n", s.Absent)
	fmt.Printf("Interpolated:   %d\n", s.Interpolated)
	fmt.Printf("Unavailable:    %d\n", s.Unavailable)
	fmt.Printf("Failed:         %d\n", s.FailedFrames)
	if s.ExportKey != "" {
		fmt.Printf("\nExported to %s\n", s.ExportKey)
	}
}

func outcomeToExitCode(outcome string) int {
	switch outcome {
	case "success":
		return exitSuccess
	case "partial":
		return exitPartial
	default:
		return exitFailed
	}
}

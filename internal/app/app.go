package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/govisionhq/lens/internal/config"
	"github.com/govisionhq/lens/internal/creds"
	"github.com/govisionhq/lens/internal/govision"
	"github.com/govisionhq/lens/internal/state"
	"github.com/govisionhq/lens/internal/ui"
)

// Options configure the lens commands.
type Options struct {
	ConfigPath  string
	PollEvery   int // seconds; zero uses the config value
	Concurrency int // zero uses the config value
	OutputDir   string
	NoExport    bool
	NoUI        bool
}

type env struct {
	cfg    config.Config
	log    *logrus.Logger
	creds  *creds.Store
	client *govision.Client
}

func bootstrap(opts Options) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.PollEvery > 0 {
		cfg.PollInterval = time.Duration(opts.PollEvery) * time.Second
	}
	if opts.Concurrency > 0 {
		cfg.UploadConcurrency = opts.Concurrency
	}
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.NoExport {
		cfg.AutoExport = false
	}

	log := newLogger(cfg.LogFile)

	credStore, err := creds.NewStore(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("init credential store: %w", err)
	}
	client, err := govision.NewClient(cfg.APIBaseURL, credStore)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}
	return &env{cfg: cfg, log: log, creds: credStore, client: client}, nil
}

// RunUpload uploads the given files, polls their jobs to completion, and
// shows the live dashboard unless opts.NoUI is set.
func RunUpload(ctx context.Context, opts Options, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no files given")
	}
	e, err := bootstrap(opts)
	if err != nil {
		return err
	}
	cred, ok := e.creds.Get()
	if !ok {
		return fmt.Errorf("not logged in; run 'lens login' first")
	}

	jobs := state.NewStore()

	var onComplete CompleteFunc
	if e.cfg.AutoExport {
		exporter := NewExporter(e.cfg.OutputDir, e.log)
		onComplete = func(ctx context.Context, job state.Job) {
			path, err := exporter.Export(ctx, job)
			if err != nil {
				e.log.WithField("job", job.ID).WithError(err).Warn("auto-export skipped")
				return
			}
			jobs.Merge(job.ID, state.Patch{ArtifactPath: &path})
		}
	}

	engine := NewEngine(jobs, e.client, e.cfg.PollInterval, e.log, onComplete)
	defer engine.Stop()

	pipeline := NewPipeline(jobs, e.client, engine, e.cfg.UploadConcurrency, e.cfg.MaxUploadBytes, e.log)

	if opts.NoUI {
		pipeline.Run(ctx, paths)
		waitForIdle(ctx, engine)
	} else {
		var pipelineDone atomic.Bool
		go func() {
			pipeline.Run(ctx, paths)
			pipelineDone.Store(true)
		}()
		uiErr := ui.Run(ui.Options{
			Store:    jobs,
			Identity: cred.Identity,
			Done: func() bool {
				return pipelineDone.Load() && !engine.Running()
			},
			Expired: engine.SessionExpired,
		})
		if uiErr != nil {
			return fmt.Errorf("run dashboard: %w", uiErr)
		}
	}

	printSummary(os.Stdout, jobs)

	if engine.SessionExpired() {
		return fmt.Errorf("session expired; run 'lens login' again")
	}
	return nil
}

// RunExport re-renders a single job's annotated image on demand. The job is
// fetched fresh from the server; rendering is deterministic, so re-exporting
// a job produces the same artifact as the automatic pass.
func RunExport(ctx context.Context, opts Options, jobID string) error {
	e, err := bootstrap(opts)
	if err != nil {
		return err
	}
	if _, ok := e.creds.Get(); !ok {
		return fmt.Errorf("not logged in; run 'lens login' first")
	}

	resp, err := e.client.FetchJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch job: %w", err)
	}
	if state.Status(resp.Status) != state.StatusCompleted {
		return fmt.Errorf("job %s is %s, not completed", jobID, resp.Status)
	}

	exporter := NewExporter(e.cfg.OutputDir, e.log)
	path, err := exporter.Export(ctx, state.Job{
		ID:         jobID,
		ImageURL:   resp.ImageURL,
		Detections: resp.Predictions,
	})
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// waitForIdle blocks until the polling engine has stopped itself.
func waitForIdle(ctx context.Context, engine *Engine) {
	for engine.Running() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func printSummary(w io.Writer, jobs *state.Store) {
	snapshot := jobs.Snapshot()
	if len(snapshot) == 0 {
		fmt.Fprintln(w, "no files accepted for upload")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tDETECTIONS\tRESULT")
	for _, job := range snapshot {
		result := "-"
		switch {
		case job.ArtifactPath != "":
			result = job.ArtifactPath
		case job.Error != "":
			result = job.Error
		}
		detections := "-"
		if job.Status == state.StatusCompleted {
			detections = fmt.Sprintf("%d", len(job.Detections))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", job.ID, job.FileName, job.Status, detections, result)
	}
	_ = tw.Flush()
}

// newLogger writes to the configured log file so the dashboard owns stdout.
func newLogger(path string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.SetOutput(io.Discard)
		return log
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		return log
	}
	log.SetOutput(file)
	return log
}

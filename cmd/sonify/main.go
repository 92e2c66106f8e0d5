package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"

	"github.com/leowmjw/go-sonify/pkg/hcl"
	"github.com/leowmjw/go-sonify/pkg/render"
	"github.com/leowmjw/go-sonify/pkg/temporal"
)

const (
	modeLocal    = "local"
	modeTemporal = "temporal"
)

type options struct {
	path        string
	mode        string
	address     string
	namespace   string
	taskQueue   string
	displayJSON bool
	dump        bool
}

func main() {
	var (
		opts     options
		logLevel string
	)

	flag.StringVar(&opts.path, "path", "", "Path to an HCL, YAML or JSON config, or a directory of HCL files (required)")
	flag.StringVar(&opts.mode, "mode", modeLocal, "Operation mode: 'local' or 'temporal'")
	flag.StringVar(&opts.address, "address", "localhost:7233", "Address of Temporal server")
	flag.StringVar(&opts.namespace, "namespace", "default", "Temporal namespace")
	flag.StringVar(&opts.taskQueue, "task-queue", temporal.DefaultTaskQueue, "Temporal task queue")
	flag.BoolVar(&opts.displayJSON, "json", false, "Display results as JSON")
	flag.BoolVar(&opts.dump, "dump", false, "Dump the prepared plan of each local render")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.path == "" {
		logger.Error("Path parameter is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, logger); err != nil {
		logger.Error("Sonify failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer, logger *slog.Logger) error {
	configs, err := hcl.LoadConfig(opts.path)
	if err != nil {
		return err
	}
	logger.Info("Loaded render configs", "path", opts.path, "count", len(configs))

	switch opts.mode {
	case modeLocal:
		return runLocal(ctx, configs, opts, out, logger)
	case modeTemporal:
		c, err := client.Dial(client.Options{
			HostPort:  opts.address,
			Namespace: opts.namespace,
			Logger:    sdklog.NewStructuredLogger(logger),
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer c.Close()
		return runTemporal(ctx, c, configs, opts, out, logger)
	default:
		return fmt.Errorf("mode must be either %q or %q", modeLocal, modeTemporal)
	}
}

// runLocal renders every config in process, continuing past failures
func runLocal(ctx context.Context, configs []*render.Config, opts options, out io.Writer, logger *slog.Logger) error {
	var errs []error
	for _, cfg := range configs {
		plan, result, err := render.Run(ctx, cfg, logger)
		if err != nil {
			logger.Error("Render failed", "render", cfg.Name, "error", err)
			errs = append(errs, fmt.Errorf("render %q: %w", cfg.Name, err))
			continue
		}
		if opts.dump {
			spew.Fdump(out, plan)
		}

		summary := &temporal.RenderResult{
			Name:        plan.Name,
			Records:     len(plan.Records),
			Events:      len(result.Sequence),
			TotalMs:     plan.TotalMs,
			Instruments: result.Instruments,
			Outputs:     result.Outputs,
		}
		if err := displayResult(out, summary, opts.displayJSON); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// runTemporal submits one render workflow, or a batch when there are several configs
func runTemporal(ctx context.Context, c client.Client, configs []*render.Config, opts options, out io.Writer, logger *slog.Logger) error {
	if len(configs) == 1 {
		cfg := configs[0]
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        temporal.GenerateRenderWorkflowID(cfg.ID()),
			TaskQueue: opts.taskQueue,
		}, temporal.RenderWorkflow, temporal.RenderRequest{Config: *cfg})
		if err != nil {
			return fmt.Errorf("failed to execute render workflow: %w", err)
		}
		logger.Info("Started render workflow", "workflow_id", run.GetID(), "run_id", run.GetRunID())

		var result *temporal.RenderResult
		if err := run.Get(ctx, &result); err != nil {
			return fmt.Errorf("failed to get render result: %w", err)
		}
		return displayResult(out, result, opts.displayJSON)
	}

	request := temporal.BatchRenderRequest{Configs: make([]render.Config, len(configs))}
	for i, cfg := range configs {
		request.Configs[i] = *cfg
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        temporal.GenerateBatchWorkflowID(),
		TaskQueue: opts.taskQueue,
	}, temporal.BatchRenderWorkflow, request)
	if err != nil {
		return fmt.Errorf("failed to execute batch workflow: %w", err)
	}
	logger.Info("Started batch workflow", "workflow_id", run.GetID(), "renders", len(configs))

	var result *temporal.BatchRenderResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("failed to get batch result: %w", err)
	}
	for _, r := range result.Results {
		if err := displayResult(out, r, opts.displayJSON); err != nil {
			return err
		}
	}
	for _, f := range result.Failures {
		fmt.Fprintf(out, "Render %s failed: %s\n", f.Name, f.Error)
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d renders failed", len(result.Failures), len(configs))
	}
	return nil
}

// displayResult shows a render result in human-readable or JSON format
func displayResult(out io.Writer, result *temporal.RenderResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "Render %s:\n", result.Name)
	fmt.Fprintf(out, "  Records: %d\n", result.Records)
	fmt.Fprintf(out, "  Events: %d\n", result.Events)
	fmt.Fprintf(out, "  Duration: %s\n", render.FormatElapsed(result.TotalMs))
	for _, inst := range result.Instruments {
		fmt.Fprintf(out, "  Instrument %d %s: %d spans, %d events\n", inst.Index, inst.Name, inst.Spans, inst.Events)
	}
	for _, path := range result.Outputs {
		fmt.Fprintf(out, "  Wrote %s\n", path)
	}
	return nil
}

package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/leowmjw/go-sonify/pkg/dataset"
	"github.com/leowmjw/go-sonify/pkg/render"
	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// InvalidInputErrorType tags failures caused by the config or dataset rather than the environment
const InvalidInputErrorType = "InvalidInput"

// PlanSummary describes a prepared plan without carrying its records
type PlanSummary struct {
	PlanID      string   `json:"plan_id"`
	Name        string   `json:"name"`
	BeatMs      int      `json:"beat_ms"`
	TotalMs     int      `json:"total_ms"`
	Records     int      `json:"records"`
	Instruments int      `json:"instruments"`
	Metrics     []string `json:"metrics"`
}

// BuildSummary describes a built sequence
type BuildSummary struct {
	PlanID      string                   `json:"plan_id"`
	Events      int                      `json:"events"`
	LastEventMs int                      `json:"last_event_ms"`
	Instruments []render.InstrumentStats `json:"instruments"`
}

// BuildProgress is the heartbeat payload of BuildSequenceActivity
type BuildProgress struct {
	CompletedInstruments int `json:"completed_instruments"`
	TotalInstruments     int `json:"total_instruments"`
	Events               int `json:"events"`
}

// Activities interface defines all the activities used by workflows
type Activities interface {
	LoadDatasetActivity(ctx context.Context, cfg render.Config) (*PlanSummary, error)
	BuildSequenceActivity(ctx context.Context, planID string) (*BuildSummary, error)
	WriteOutputsActivity(ctx context.Context, cfg render.Config, planID string) ([]string, error)
	ReleasePlanActivity(ctx context.Context, planID string) error
}

// ActivitiesImpl implements the Activities interface
type ActivitiesImpl struct {
	logger *slog.Logger
	store  PlanStore
}

// NewActivitiesImpl creates a new activities implementation
func NewActivitiesImpl(logger *slog.Logger, store PlanStore) *ActivitiesImpl {
	return &ActivitiesImpl{
		logger: logger,
		store:  store,
	}
}

// LoadDatasetActivity loads instruments and records, normalizes them and stores the plan
func (a *ActivitiesImpl) LoadDatasetActivity(ctx context.Context, cfg render.Config) (*PlanSummary, error) {
	a.logger.Info("Loading dataset", "render", cfg.Name, "path", cfg.Dataset.Path)

	plan, err := render.Prepare(ctx, &cfg, a.logger)
	if err != nil {
		a.logger.Error("Failed to prepare render", "render", cfg.Name, "error", err)
		return nil, classify(err)
	}

	planID := uuid.NewString()
	if err := a.store.SavePlan(ctx, planID, plan); err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}

	a.logger.Info("Successfully prepared render", "render", cfg.Name, "planID", planID, "records", len(plan.Records))
	return &PlanSummary{
		PlanID:      planID,
		Name:        plan.Name,
		BeatMs:      plan.BeatMs,
		TotalMs:     plan.TotalMs,
		Records:     len(plan.Records),
		Instruments: len(plan.Instruments),
		Metrics:     plan.Metrics,
	}, nil
}

// BuildSequenceActivity runs the sequence builder over a stored plan and stores the result
func (a *ActivitiesImpl) BuildSequenceActivity(ctx context.Context, planID string) (*BuildSummary, error) {
	plan, err := a.store.LoadPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	a.logger.Info("Building sequence", "render", plan.Name, "planID", planID, "instruments", len(plan.Instruments))

	// Report progress via heartbeat
	progress := BuildProgress{TotalInstruments: len(plan.Instruments)}
	activity.RecordHeartbeat(ctx, progress)

	result := render.Build(plan, a.logger, func(stats render.InstrumentStats) {
		progress.CompletedInstruments++
		progress.Events += stats.Events
		activity.RecordHeartbeat(ctx, progress)
	})

	if err := a.store.SaveResult(ctx, planID, result); err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}

	summary := &BuildSummary{
		PlanID:      planID,
		Events:      len(result.Sequence),
		Instruments: result.Instruments,
	}
	if n := len(result.Sequence); n > 0 {
		summary.LastEventMs = result.Sequence[n-1].ElapsedMs
	}

	a.logger.Info("Successfully built sequence", "render", plan.Name, "events", summary.Events)
	return summary, nil
}

// WriteOutputsActivity writes every configured output file for a built plan
func (a *ActivitiesImpl) WriteOutputsActivity(ctx context.Context, cfg render.Config, planID string) ([]string, error) {
	plan, err := a.store.LoadPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	result, err := a.store.LoadResult(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load result: %w", err)
	}

	cfg.ApplyDefaults()
	outputs, err := render.WriteOutputs(ctx, &cfg, plan, result.Sequence, a.logger)
	if err != nil {
		a.logger.Error("Failed to write outputs", "render", cfg.Name, "error", err)
		return outputs, err
	}

	a.logger.Info("Successfully wrote outputs", "render", cfg.Name, "count", len(outputs))
	return outputs, nil
}

// ReleasePlanActivity drops a plan and its result from the store
func (a *ActivitiesImpl) ReleasePlanActivity(ctx context.Context, planID string) error {
	if err := a.store.Delete(ctx, planID); err != nil {
		a.logger.Warn("Failed to release plan", "planID", planID, "error", err)
		return err
	}
	return nil
}

// classify marks config and dataset errors as non-retryable
func classify(err error) error {
	var (
		rowErr     *dataset.RowError
		missingErr *dataset.MissingColumnError
	)
	switch {
	case errors.Is(err, render.ErrInvalidConfig),
		errors.Is(err, timeline.ErrZeroRange),
		errors.Is(err, dataset.ErrEmptyDataset),
		errors.As(err, &rowErr),
		errors.As(err, &missingErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), InvalidInputErrorType, err)
	}
	return err
}

package temporal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/leowmjw/go-sonify/pkg/render"
)

const (
	// Task queue shared by the server, worker and CLI
	DefaultTaskQueue = "sonify-task-queue"

	// Workflow IDs
	RenderWorkflowIDPrefix = "render-"
	BatchWorkflowIDPrefix  = "batch-"

	// Query names
	RenderStatusQueryName = "render-status"

	// Activity names
	LoadDatasetActivityName   = "load-dataset"
	BuildSequenceActivityName = "build-sequence"
	WriteOutputsActivityName  = "write-outputs"
	ReleasePlanActivityName   = "release-plan"

	// Default values
	DefaultBatchParallelism = 4
)

// Render stages reported by the status query
const (
	StagePending   = "pending"
	StageLoading   = "loading"
	StageBuilding  = "building"
	StageWriting   = "writing"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// RenderRequest asks for one configured render
type RenderRequest struct {
	Config render.Config `json:"config"`
}

// RenderResult is the outcome of a render workflow
type RenderResult struct {
	Name          string                   `json:"name"`
	Records       int                      `json:"records"`
	Events        int                      `json:"events"`
	TotalMs       int                      `json:"total_ms"`
	Instruments   []render.InstrumentStats `json:"instruments"`
	Outputs       []string                 `json:"outputs,omitempty"`
	ExecutionTime time.Duration            `json:"execution_time"`
}

// RenderStatus is returned by the render status query
type RenderStatus struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	PlanID string `json:"plan_id,omitempty"`
	Events int    `json:"events"`
	Error  string `json:"error,omitempty"`
}

// BatchRenderRequest asks for several renders run as child workflows
type BatchRenderRequest struct {
	Configs     []render.Config `json:"configs"`
	Parallelism int             `json:"parallelism,omitempty"`
}

// RenderFailure names a render of a batch that did not complete
type RenderFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchRenderResult collects the outcome of every render in a batch
type BatchRenderResult struct {
	Results  []*RenderResult `json:"results"`
	Failures []RenderFailure `json:"failures,omitempty"`
}

// Registrar is the part of a worker or test environment that workflows and activities register on
type Registrar interface {
	RegisterWorkflow(w interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the render workflows and activities to r under their well-known names
func Register(r Registrar, activities Activities) {
	r.RegisterWorkflow(RenderWorkflow)
	r.RegisterWorkflow(BatchRenderWorkflow)

	r.RegisterActivityWithOptions(activities.LoadDatasetActivity, activity.RegisterOptions{Name: LoadDatasetActivityName})
	r.RegisterActivityWithOptions(activities.BuildSequenceActivity, activity.RegisterOptions{Name: BuildSequenceActivityName})
	r.RegisterActivityWithOptions(activities.WriteOutputsActivity, activity.RegisterOptions{Name: WriteOutputsActivityName})
	r.RegisterActivityWithOptions(activities.ReleasePlanActivity, activity.RegisterOptions{Name: ReleasePlanActivityName})
}

// RenderWorkflow loads, builds and writes one render
func RenderWorkflow(ctx workflow.Context, request RenderRequest) (*RenderResult, error) {
	logger := workflow.GetLogger(ctx)
	cfg := request.Config
	logger.Info("Starting render workflow", "render", cfg.Name)

	startTime := workflow.Now(ctx)
	status := RenderStatus{Name: cfg.Name, Stage: StagePending}
	err := workflow.SetQueryHandler(ctx, RenderStatusQueryName, func() (RenderStatus, error) {
		return status, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{InvalidInputErrorType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	fail := func(stage string, err error) (*RenderResult, error) {
		status.Stage = StageFailed
		status.Error = err.Error()
		logger.Error("Render failed", "render", cfg.Name, "stage", stage, "error", err)
		return nil, fmt.Errorf("render %q failed while %s: %w", cfg.Name, stage, err)
	}

	// Step 1: Load and normalize the dataset
	status.Stage = StageLoading
	var plan PlanSummary
	if err := workflow.ExecuteActivity(ctx, LoadDatasetActivityName, cfg).Get(ctx, &plan); err != nil {
		return fail(StageLoading, err)
	}
	status.PlanID = plan.PlanID

	// Release the stored plan however the render ends
	defer func() {
		releaseCtx, _ := workflow.NewDisconnectedContext(ctx)
		if err := workflow.ExecuteActivity(releaseCtx, ReleasePlanActivityName, plan.PlanID).Get(releaseCtx, nil); err != nil {
			logger.Warn("Failed to release plan", "planID", plan.PlanID, "error", err)
		}
	}()

	// Step 2: Build the sequence
	status.Stage = StageBuilding
	var built BuildSummary
	if err := workflow.ExecuteActivity(ctx, BuildSequenceActivityName, plan.PlanID).Get(ctx, &built); err != nil {
		return fail(StageBuilding, err)
	}
	status.Events = built.Events

	// Step 3: Write output files
	status.Stage = StageWriting
	var outputs []string
	if err := workflow.ExecuteActivity(ctx, WriteOutputsActivityName, cfg, plan.PlanID).Get(ctx, &outputs); err != nil {
		return fail(StageWriting, err)
	}

	status.Stage = StageCompleted
	result := &RenderResult{
		Name:          cfg.Name,
		Records:       plan.Records,
		Events:        built.Events,
		TotalMs:       plan.TotalMs,
		Instruments:   built.Instruments,
		Outputs:       outputs,
		ExecutionTime: workflow.Now(ctx).Sub(startTime),
	}

	logger.Info("Render completed", "render", cfg.Name, "events", result.Events, "outputs", len(outputs))
	return result, nil
}

// BatchRenderWorkflow runs every config as a child RenderWorkflow, at most Parallelism at a time.
// A failed render is reported in Failures and does not stop the others.
func BatchRenderWorkflow(ctx workflow.Context, request BatchRenderRequest) (*BatchRenderResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting batch render workflow", "renders", len(request.Configs))

	result := &BatchRenderResult{Results: []*RenderResult{}}
	if len(request.Configs) == 0 {
		return result, nil
	}

	parallelism := request.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultBatchParallelism
	}

	parentID := workflow.GetInfo(ctx).WorkflowExecution.ID
	results := make([]*RenderResult, len(request.Configs))
	selector := workflow.NewSelector(ctx)
	pending := 0

	start := func(i int) {
		cfg := request.Configs[i]
		childOptions := workflow.ChildWorkflowOptions{
			WorkflowID: GenerateChildWorkflowID(parentID, cfg.ID(), i),
		}
		childCtx := workflow.WithChildOptions(ctx, childOptions)
		future := workflow.ExecuteChildWorkflow(childCtx, RenderWorkflow, RenderRequest{Config: cfg})
		pending++

		selector.AddFuture(future, func(f workflow.Future) {
			pending--
			var r *RenderResult
			if err := f.Get(ctx, &r); err != nil {
				// Continue with the other renders even if one fails
				logger.Error("Child render failed", "render", cfg.Name, "error", err)
				result.Failures = append(result.Failures, RenderFailure{Name: cfg.Name, Error: err.Error()})
				return
			}
			results[i] = r
		})
	}

	next := 0
	for ; next < len(request.Configs) && next < parallelism; next++ {
		start(next)
	}
	for pending > 0 {
		selector.Select(ctx)
		if next < len(request.Configs) {
			start(next)
			next++
		}
	}

	for _, r := range results {
		if r != nil {
			result.Results = append(result.Results, r)
		}
	}

	logger.Info("Completed batch render workflow", "renders", len(request.Configs), "succeeded", len(result.Results), "failed", len(result.Failures))
	return result, nil
}

// Utility functions for workflow IDs

// GenerateRenderWorkflowID creates a unique workflow ID for a render
func GenerateRenderWorkflowID(renderID string) string {
	return fmt.Sprintf("%s%s-%s", RenderWorkflowIDPrefix, renderID, uuid.NewString())
}

// GenerateBatchWorkflowID creates a unique workflow ID for a batch
func GenerateBatchWorkflowID() string {
	return BatchWorkflowIDPrefix + uuid.NewString()
}

// GenerateChildWorkflowID derives a deterministic child ID from the parent workflow
func GenerateChildWorkflowID(parentID, renderID string, index int) string {
	return fmt.Sprintf("%s/%s%s-%d", parentID, RenderWorkflowIDPrefix, renderID, index)
}

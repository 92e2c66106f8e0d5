package temporal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/leowmjw/go-sonify/pkg/render"
)

type RenderWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env   *testsuite.TestWorkflowEnvironment
	store *MemoryPlanStore
}

func TestRenderWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(RenderWorkflowTestSuite))
}

func (s *RenderWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.store = NewMemoryPlanStore()
	Register(s.env, NewActivitiesImpl(testLogger(), s.store))
}

func (s *RenderWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *RenderWorkflowTestSuite) TestRenderWorkflow_Success() {
	cfg := renderFixture(s.T(), "rain")

	s.env.ExecuteWorkflow(RenderWorkflow, RenderRequest{Config: cfg})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result *RenderResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal("rain", result.Name)
	s.Equal(3, result.Records)
	s.Equal(4, result.Events)
	s.Equal(3000, result.TotalMs)
	s.Len(result.Outputs, 2)

	data, err := os.ReadFile(filepath.Join(cfg.BaseDir, "sequence.csv"))
	s.NoError(err)
	s.Equal(19, strings.Count(string(data), "\r\n"))

	// the plan is released once the render ends
	s.Equal(0, s.store.Len())

	val, err := s.env.QueryWorkflow(RenderStatusQueryName)
	s.NoError(err)
	var status RenderStatus
	s.NoError(val.Get(&status))
	s.Equal(StageCompleted, status.Stage)
	s.Equal(4, status.Events)
}

func (s *RenderWorkflowTestSuite) TestRenderWorkflow_InvalidConfigNotRetried() {
	cfg := renderFixture(s.T(), "broken")
	cfg.BPM = 0

	attempts := 0
	s.env.SetOnActivityStartedListener(func(info *activity.Info, ctx context.Context, args converter.EncodedValues) {
		if info.ActivityType.Name == LoadDatasetActivityName {
			attempts++
		}
	})

	s.env.ExecuteWorkflow(RenderWorkflow, RenderRequest{Config: cfg})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Error(err)
	s.Contains(err.Error(), "invalid config")
	s.Equal(1, attempts)
}

func (s *RenderWorkflowTestSuite) TestRenderWorkflow_MissingDatasetRetried() {
	cfg := renderFixture(s.T(), "missing")
	cfg.Dataset.Path = "nope.csv"

	attempts := 0
	s.env.SetOnActivityStartedListener(func(info *activity.Info, ctx context.Context, args converter.EncodedValues) {
		if info.ActivityType.Name == LoadDatasetActivityName {
			attempts++
		}
	})

	s.env.ExecuteWorkflow(RenderWorkflow, RenderRequest{Config: cfg})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	s.Equal(3, attempts)
}

func (s *RenderWorkflowTestSuite) TestRenderWorkflow_WriteFailureReleasesPlan() {
	cfg := renderFixture(s.T(), "unwritable")

	s.env.OnActivity(WriteOutputsActivityName, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("disk full"))

	s.env.ExecuteWorkflow(RenderWorkflow, RenderRequest{Config: cfg})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Error(err)
	s.Contains(err.Error(), "disk full")
	s.Equal(0, s.store.Len())

	val, err := s.env.QueryWorkflow(RenderStatusQueryName)
	s.NoError(err)
	var status RenderStatus
	s.NoError(val.Get(&status))
	s.Equal(StageFailed, status.Stage)
}

func (s *RenderWorkflowTestSuite) TestBatchRenderWorkflow() {
	good := renderFixture(s.T(), "good")
	bad := renderFixture(s.T(), "bad")
	other := renderFixture(s.T(), "other")

	s.env.OnWorkflow(RenderWorkflow, mock.Anything, mock.Anything).Return(
		func(ctx workflow.Context, request RenderRequest) (*RenderResult, error) {
			if request.Config.Name == "bad" {
				return nil, errors.New("render exploded")
			}
			return &RenderResult{Name: request.Config.Name, Events: 4}, nil
		})

	s.env.ExecuteWorkflow(BatchRenderWorkflow, BatchRenderRequest{
		Configs:     []render.Config{good, bad, other},
		Parallelism: 2,
	})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result *BatchRenderResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Len(result.Results, 2)
	s.Equal("good", result.Results[0].Name)
	s.Equal("other", result.Results[1].Name)
	s.Len(result.Failures, 1)
	s.Equal("bad", result.Failures[0].Name)
	s.Contains(result.Failures[0].Error, "render exploded")
}

func (s *RenderWorkflowTestSuite) TestBatchRenderWorkflow_Empty() {
	s.env.ExecuteWorkflow(BatchRenderWorkflow, BatchRenderRequest{})

	s.True(s.env.IsWorkflowCompleted())
	var result *BatchRenderResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Empty(result.Results)
	s.Empty(result.Failures)
}

func TestGenerateWorkflowIDs(t *testing.T) {
	renderID := GenerateRenderWorkflowID("rain")
	if !strings.HasPrefix(renderID, RenderWorkflowIDPrefix+"rain-") {
		t.Errorf("Render workflow ID should carry prefix, got '%s'", renderID)
	}
	if renderID == GenerateRenderWorkflowID("rain") {
		t.Errorf("Render workflow IDs should be unique")
	}

	batchID := GenerateBatchWorkflowID()
	if !strings.HasPrefix(batchID, BatchWorkflowIDPrefix) {
		t.Errorf("Batch workflow ID should carry prefix, got '%s'", batchID)
	}

	childID := GenerateChildWorkflowID("batch-1", "rain", 2)
	if childID != "batch-1/render-rain-2" {
		t.Errorf("Expected child ID 'batch-1/render-rain-2', got '%s'", childID)
	}
}

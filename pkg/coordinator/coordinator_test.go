package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/coordinator"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/store/storetest"
	"github.com/knowledgecore/pipeline/pkg/taskqueue"
)

type fakeQueue struct {
	published []taskqueue.PublishArgs
	fail      bool
}

func (q *fakeQueue) PublishJSON(_ context.Context, args taskqueue.PublishArgs) error {
	if q.fail {
		return errors.New("queue unavailable")
	}
	q.published = append(q.published, args)
	return nil
}

func TestInitiatePipeline_CreatesParentAndExtractionChild(t *testing.T) {
	adapter := storetest.New()
	q := &fakeQueue{}
	c := coordinator.New(adapter, q, config.DedupConfig{SemanticEnabled: true})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{
		Text: "John works at Tech Corp.", Source: "doc-1", SourceType: "text",
	})
	require.NoError(t, err)
	require.NotEmpty(t, parentID)

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, status.Status)
	require.Len(t, status.Stages, 1)
	assert.Equal(t, domain.StageExtraction, status.Stages[0].Stage)
	assert.Equal(t, domain.JobStatusQueued, status.Stages[0].Status)
	assert.False(t, status.IsComplete)
	require.Len(t, q.published, 1)
	assert.Equal(t, time.Duration(0), q.published[0].Delay)
}

// S5: pipeline initiation while the queue is unavailable still returns a
// parent id, both rows exist, and the child is observable as QUEUED.
func TestInitiatePipeline_QueueUnavailableStillCreatesRows(t *testing.T) {
	adapter := storetest.New()
	q := &fakeQueue{fail: true}
	c := coordinator.New(adapter, q, config.DedupConfig{})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{
		Text: "text", Source: "doc-1", SourceType: "text",
	})
	require.NoError(t, err)
	require.NotEmpty(t, parentID)

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	require.Len(t, status.Stages, 1)
	assert.Equal(t, domain.JobStatusQueued, status.Stages[0].Status)
	assert.False(t, status.IsComplete)
}

func TestSchedulePostProcessing_CreatesConceptsAndDedupWhenEnabled(t *testing.T) {
	adapter := storetest.New()
	q := &fakeQueue{}
	c := coordinator.New(adapter, q, config.DedupConfig{SemanticEnabled: true})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)

	err = c.SchedulePostProcessing(context.Background(), parentID, &domain.ExtractionStats{ProcessingTimeMS: 5000})
	require.NoError(t, err)

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	require.Len(t, status.Stages, 3)

	stageSet := map[domain.JobStage]bool{}
	for _, s := range status.Stages {
		stageSet[s.Stage] = true
	}
	assert.True(t, stageSet[domain.StageExtraction])
	assert.True(t, stageSet[domain.StageConcepts])
	assert.True(t, stageSet[domain.StageDeduplication])

	// property 2: at most one child per (parent, stage).
	require.Len(t, q.published, 3)
}

func TestSchedulePostProcessing_SkipsDedupWhenDisabled(t *testing.T) {
	adapter := storetest.New()
	q := &fakeQueue{}
	c := coordinator.New(adapter, q, config.DedupConfig{SemanticEnabled: false})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)

	require.NoError(t, c.SchedulePostProcessing(context.Background(), parentID, &domain.ExtractionStats{}))

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	require.Len(t, status.Stages, 2)
}

// Property 2: calling SchedulePostProcessing twice for the same parent
// never creates a second child for an already-scheduled stage.
func TestSchedulePostProcessing_IdempotentAgainstDoubleScheduling(t *testing.T) {
	adapter := storetest.New()
	q := &fakeQueue{}
	c := coordinator.New(adapter, q, config.DedupConfig{SemanticEnabled: true})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)

	require.NoError(t, c.SchedulePostProcessing(context.Background(), parentID, &domain.ExtractionStats{}))
	require.NoError(t, c.SchedulePostProcessing(context.Background(), parentID, &domain.ExtractionStats{}))

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	assert.Len(t, status.Stages, 3)
}

// S6: calling updateProgress(j, 150) stores progress 100, status
// COMPLETED, completedAt set.
func TestUpdateProgress_ClampsAbove100(t *testing.T) {
	adapter := storetest.New()
	c := coordinator.New(adapter, &fakeQueue{}, config.DedupConfig{})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)

	child, ok, err := c.GetJobByStage(context.Background(), parentID, domain.StageExtraction)
	require.NoError(t, err)
	require.True(t, ok)

	updated, err := c.UpdateProgress(context.Background(), child.ID, 150, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Progress)
	assert.Equal(t, domain.JobStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
}

// Property 1: progress is non-decreasing and in [0,100].
func TestUpdateProgress_MonotoneAndBounded(t *testing.T) {
	adapter := storetest.New()
	c := coordinator.New(adapter, &fakeQueue{}, config.DedupConfig{})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)
	child, _, err := c.GetJobByStage(context.Background(), parentID, domain.StageExtraction)
	require.NoError(t, err)

	last := -1
	for _, p := range []int{-10, 0, 10, 50, 95, 100} {
		updated, err := c.UpdateProgress(context.Background(), child.ID, p, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, updated.Progress, 0)
		assert.LessOrEqual(t, updated.Progress, 100)
		assert.GreaterOrEqual(t, updated.Progress, last)
		last = updated.Progress
	}
}

func TestIsPipelineComplete_FalseWithZeroChildren(t *testing.T) {
	adapter := storetest.New()
	c := coordinator.New(adapter, &fakeQueue{}, config.DedupConfig{})

	complete, err := c.IsPipelineComplete(context.Background(), "nonexistent-parent")
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestIsPipelineComplete_TrueWhenAllChildrenTerminal(t *testing.T) {
	adapter := storetest.New()
	c := coordinator.New(adapter, &fakeQueue{}, config.DedupConfig{})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)
	child, _, err := c.GetJobByStage(context.Background(), parentID, domain.StageExtraction)
	require.NoError(t, err)

	_, err = c.UpdateProgress(context.Background(), child.ID, 100, nil)
	require.NoError(t, err)

	complete, err := c.IsPipelineComplete(context.Background(), parentID)
	require.NoError(t, err)
	assert.True(t, complete)
}

// Parent completion is coordinator-observed: the stored parent status only
// flips to COMPLETED once GetPipelineStatus is asked after every child has
// reached a terminal state.
func TestGetPipelineStatus_ObservesParentCompletionOnceChildrenTerminal(t *testing.T) {
	adapter := storetest.New()
	c := coordinator.New(adapter, &fakeQueue{}, config.DedupConfig{})

	parentID, err := c.InitiatePipeline(context.Background(), coordinator.InitiateArgs{Text: "t", Source: "s", SourceType: "text"})
	require.NoError(t, err)
	child, _, err := c.GetJobByStage(context.Background(), parentID, domain.StageExtraction)
	require.NoError(t, err)

	status, err := c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, status.Status)
	assert.False(t, status.IsComplete)

	_, err = c.UpdateProgress(context.Background(), child.ID, 100, nil)
	require.NoError(t, err)

	status, err = c.GetPipelineStatus(context.Background(), parentID)
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.Equal(t, domain.JobStatusCompleted, status.Status)
}

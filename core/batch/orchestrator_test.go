package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func makeDocuments(count int) []*model.Document {
	documents := make([]*model.Document, 0, count)
	for i := 0; i < count; i++ {
		documents = append(documents, &model.Document{
			RID:     uuid.New(),
			Title:   fmt.Sprintf("document-%02d", i),
			Content: fmt.Sprintf("Content of document %02d.", i),
		})
	}
	return documents
}

// passthroughAnalyze returns one group per document so commit has input.
func passthroughAnalyze(ctx context.Context, document *model.Document) ([]*model.EntityGroup, error) {
	return []*model.EntityGroup{{
		RID:  uuid.New(),
		Type: model.EntityPerson,
		Text: document.Title,
	}}, nil
}

func countingCommit(committed *atomic.Int64) CommitFunc {
	return func(ctx context.Context, document *model.Document, groups []*model.EntityGroup) (*model.ProcessingResult, error) {
		committed.Add(1)
		return &model.ProcessingResult{
			Document:    document,
			Groups:      groups,
			NewMappings: len(groups),
		}, nil
	}
}

func TestOrchestratorRun(t *testing.T) {
	t.Run("Processes all documents and aggregates counts", func(t *testing.T) {
		documents := makeDocuments(12)
		var committed atomic.Int64
		o := NewOrchestrator(passthroughAnalyze, countingCommit(&committed), nil, testLogger())

		report, err := o.Run(context.Background(), documents)
		require.NoError(t, err)
		assert.Equal(t, 12, report.Processed)
		assert.Equal(t, 0, report.Failed)
		assert.Empty(t, report.Errors)
		assert.Equal(t, 12, report.EntityCount)
		assert.Equal(t, 12, report.NewMappings)
		assert.False(t, report.Cancelled)
		assert.Equal(t, int64(12), committed.Load())
	})

	t.Run("Empty batch returns an empty report", func(t *testing.T) {
		o := NewOrchestrator(passthroughAnalyze, countingCommit(&atomic.Int64{}), nil, testLogger())
		report, err := o.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Processed)
		assert.Equal(t, 0, report.Failed)
	})

	t.Run("Commits never overlap even with many workers", func(t *testing.T) {
		documents := makeDocuments(20)
		var inFlight atomic.Int64
		var overlaps atomic.Int64
		commit := func(ctx context.Context, document *model.Document, groups []*model.EntityGroup) (*model.ProcessingResult, error) {
			if inFlight.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return &model.ProcessingResult{Document: document, Groups: groups}, nil
		}
		policy := model.BatchPolicy{Concurrency: 8, ContinueOnError: true}
		o := NewOrchestrator(passthroughAnalyze, commit, &policy, testLogger())

		report, err := o.Run(context.Background(), documents)
		require.NoError(t, err)
		assert.Equal(t, 20, report.Processed)
		assert.Equal(t, int64(0), overlaps.Load(), "Expected all commits to run on a single writer")
	})
}

func TestOrchestratorErrors(t *testing.T) {
	failOn := func(title string) AnalyzeFunc {
		return func(ctx context.Context, document *model.Document) ([]*model.EntityGroup, error) {
			if document.Title == title {
				return nil, fmt.Errorf("model inference failed")
			}
			return passthroughAnalyze(ctx, document)
		}
	}

	t.Run("ContinueOnError records the failure and keeps going", func(t *testing.T) {
		documents := makeDocuments(6)
		o := NewOrchestrator(failOn("document-02"), countingCommit(&atomic.Int64{}), nil, testLogger())

		report, err := o.Run(context.Background(), documents)
		require.NoError(t, err)
		assert.Equal(t, 5, report.Processed)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Errors, 1)
		assert.Equal(t, "document-02", report.Errors[0].Title)
		assert.Equal(t, documents[2].RID, report.Errors[0].DocumentRID)
		assert.Contains(t, report.Errors[0].Message, "inference")
		assert.False(t, report.Cancelled)
	})

	t.Run("Commit failures are recorded per document", func(t *testing.T) {
		documents := makeDocuments(4)
		commit := func(ctx context.Context, document *model.Document, groups []*model.EntityGroup) (*model.ProcessingResult, error) {
			if strings.HasSuffix(document.Title, "-01") {
				return nil, fmt.Errorf("insert failed")
			}
			return &model.ProcessingResult{Document: document, Groups: groups}, nil
		}
		o := NewOrchestrator(passthroughAnalyze, commit, nil, testLogger())

		report, err := o.Run(context.Background(), documents)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Processed)
		assert.Equal(t, 1, report.Failed)
	})

	t.Run("Without ContinueOnError the first failure stops the dispatch", func(t *testing.T) {
		documents := makeDocuments(8)
		analyze := func(ctx context.Context, document *model.Document) ([]*model.EntityGroup, error) {
			if document.Title == "document-00" {
				return nil, fmt.Errorf("model inference failed")
			}
			time.Sleep(10 * time.Millisecond)
			return passthroughAnalyze(ctx, document)
		}
		policy := model.BatchPolicy{Concurrency: 1, ContinueOnError: false}
		o := NewOrchestrator(analyze, countingCommit(&atomic.Int64{}), &policy, testLogger())

		report, err := o.Run(context.Background(), documents)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Less(t, report.Processed, len(documents)-1, "Expected remaining documents to be skipped")
		assert.True(t, report.Cancelled)
	})
}

func TestOrchestratorCancellation(t *testing.T) {
	t.Run("A cancelled context dispatches nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var committed atomic.Int64
		o := NewOrchestrator(passthroughAnalyze, countingCommit(&committed), nil, testLogger())
		report, err := o.Run(ctx, makeDocuments(5))
		require.NoError(t, err)
		assert.Equal(t, 0, report.Processed)
		assert.Equal(t, int64(0), committed.Load())
		assert.True(t, report.Cancelled)
	})

	t.Run("In flight documents finish after cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		analyze := func(innerCtx context.Context, document *model.Document) ([]*model.EntityGroup, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(20 * time.Millisecond)
			return passthroughAnalyze(innerCtx, document)
		}

		var committed atomic.Int64
		policy := model.BatchPolicy{Concurrency: 1, ContinueOnError: true}
		o := NewOrchestrator(analyze, countingCommit(&committed), &policy, testLogger())

		go func() {
			<-started
			cancel()
		}()

		report, err := o.Run(ctx, makeDocuments(5))
		require.NoError(t, err)
		assert.True(t, report.Cancelled)
		assert.GreaterOrEqual(t, report.Processed, 1, "Expected the in flight document to be committed")
		assert.Less(t, report.Processed, 5)
		assert.Equal(t, int64(report.Processed), committed.Load())
	})
}

func TestOrchestratorProgress(t *testing.T) {
	documents := makeDocuments(10)
	var committed atomic.Int64
	o := NewOrchestrator(passthroughAnalyze, countingCommit(&committed), nil, testLogger())

	report, err := o.Run(context.Background(), documents)
	require.NoError(t, err)

	progress := o.Progress()
	assert.Equal(t, int64(10), progress.Total)
	assert.Equal(t, int64(report.Processed), progress.Completed)
	assert.Equal(t, int64(report.Failed), progress.Failed)
	assert.Equal(t, int64(report.EntityCount), progress.EntityCount)
	assert.Equal(t, int64(report.NewMappings), progress.NewMappings)
}

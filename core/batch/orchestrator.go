package batch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/siherrmann/pseudonymizer/model"
	"golang.org/x/sync/errgroup"
)

// AnalyzeFunc runs the read-only stages for one document and returns its
// resolved entity groups. It is called concurrently from the worker pool
// and must not touch the store.
type AnalyzeFunc func(ctx context.Context, document *model.Document) ([]*model.EntityGroup, error)

// CommitFunc assigns pseudonyms and persists the outcome for one document.
// It is only ever called from the single writer goroutine, so mapping
// lookups and inserts never race between documents.
type CommitFunc func(ctx context.Context, document *model.Document, groups []*model.EntityGroup) (*model.ProcessingResult, error)

// Progress is a point-in-time snapshot of a running batch.
type Progress struct {
	Total          int64 `json:"total"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	EntityCount    int64 `json:"entity_count"`
	NewMappings    int64 `json:"new_mappings"`
	ReusedMappings int64 `json:"reused_mappings"`
}

// Orchestrator fans document analysis out over a bounded worker pool and
// funnels every result through one writer. Workers never write, the writer
// never analyzes.
type Orchestrator struct {
	analyze AnalyzeFunc
	commit  CommitFunc
	policy  model.BatchPolicy
	logger  *slog.Logger

	total          atomic.Int64
	completed      atomic.Int64
	failed         atomic.Int64
	entityCount    atomic.Int64
	newMappings    atomic.Int64
	reusedMappings atomic.Int64
}

// NewOrchestrator creates a batch orchestrator. A nil policy selects the
// default policy.
func NewOrchestrator(analyze AnalyzeFunc, commit CommitFunc, policy *model.BatchPolicy, logger *slog.Logger) *Orchestrator {
	effective := model.DefaultBatchPolicy()
	if policy != nil {
		effective = *policy
	}
	if effective.Concurrency < 1 {
		effective.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		analyze: analyze,
		commit:  commit,
		policy:  effective,
		logger:  logger,
	}
}

// Progress returns the current counters. Safe to call from any goroutine
// while Run is in flight.
func (o *Orchestrator) Progress() Progress {
	return Progress{
		Total:          o.total.Load(),
		Completed:      o.completed.Load(),
		Failed:         o.failed.Load(),
		EntityCount:    o.entityCount.Load(),
		NewMappings:    o.newMappings.Load(),
		ReusedMappings: o.reusedMappings.Load(),
	}
}

// analyzed carries one worker result to the writer. Exactly one of groups
// and err is meaningful.
type analyzed struct {
	document *model.Document
	groups   []*model.EntityGroup
	err      error
}

// Run processes the documents and returns the aggregated report. On
// cancellation no new documents are started, but documents already in
// flight are analyzed and committed so no partial state is left behind.
// With ContinueOnError disabled the first failing document stops the
// dispatch the same way.
func (o *Orchestrator) Run(ctx context.Context, documents []*model.Document) (*model.BatchReport, error) {
	start := time.Now()
	o.total.Store(int64(len(documents)))
	o.completed.Store(0)
	o.failed.Store(0)
	o.entityCount.Store(0)
	o.newMappings.Store(0)
	o.reusedMappings.Store(0)

	report := &model.BatchReport{}
	if len(documents) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	// dispatchCtx stops the dispatch loop on external cancellation or, when
	// ContinueOnError is off, on the first failure. In-flight work keeps
	// the parent deadline-free context so commits always land.
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	commitCtx := context.WithoutCancel(ctx)

	results := make(chan analyzed)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for result := range results {
			if result.err != nil {
				o.recordFailure(report, result.document, result.err)
				if !o.policy.ContinueOnError {
					stopDispatch()
				}
				continue
			}

			processing, err := o.commit(commitCtx, result.document, result.groups)
			if err != nil {
				o.recordFailure(report, result.document, err)
				if !o.policy.ContinueOnError {
					stopDispatch()
				}
				continue
			}

			report.Processed++
			report.EntityCount += len(processing.Groups)
			report.NewMappings += processing.NewMappings
			report.ReusedMappings += processing.ReusedMappings
			o.completed.Add(1)
			o.entityCount.Add(int64(len(processing.Groups)))
			o.newMappings.Add(int64(processing.NewMappings))
			o.reusedMappings.Add(int64(processing.ReusedMappings))
		}
	}()

	workers := errgroup.Group{}
	workers.SetLimit(o.policy.Concurrency)

	dispatched := 0
	for _, document := range documents {
		if dispatchCtx.Err() != nil {
			break
		}
		dispatched++
		workers.Go(func() error {
			groups, err := o.analyze(commitCtx, document)
			results <- analyzed{document: document, groups: groups, err: err}
			return nil
		})
	}

	workers.Wait()
	close(results)
	<-writerDone

	report.Cancelled = ctx.Err() != nil || (!o.policy.ContinueOnError && report.Failed > 0)
	report.Duration = time.Since(start)
	skipped := len(documents) - dispatched
	if skipped > 0 {
		o.logger.Warn("Batch stopped before all documents were dispatched",
			slog.Int("skipped", skipped),
			slog.Int("processed", report.Processed),
			slog.Int("failed", report.Failed))
	}
	return report, nil
}

func (o *Orchestrator) recordFailure(report *model.BatchReport, document *model.Document, err error) {
	o.logger.Error("Document failed in batch",
		slog.String("title", document.Title),
		slog.String("error", err.Error()))
	report.Failed++
	report.Errors = append(report.Errors, model.BatchError{
		DocumentRID: document.RID,
		Title:       document.Title,
		Message:     err.Error(),
	})
	o.failed.Add(1)
}

package pseudonymizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/core/assign"
	"github.com/siherrmann/pseudonymizer/core/batch"
	"github.com/siherrmann/pseudonymizer/core/cluster"
	"github.com/siherrmann/pseudonymizer/core/detect"
	"github.com/siherrmann/pseudonymizer/core/merge"
	"github.com/siherrmann/pseudonymizer/core/session"
	"github.com/siherrmann/pseudonymizer/database"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
)

// Pseudonymizer provides a unified interface to the encrypted mapping store
// and the processing stages (detection, merge, clustering, assignment).
type Pseudonymizer struct {
	Store *database.Store
	// Detection is pluggable, use UseDefaultDetector or SetDetector.
	detector detect.DetectFunc
	pool     assign.NamePool
	// mu serializes assignment and persistence so concurrent callers behave
	// as a single writer against the mapping store.
	mu        sync.Mutex
	lastBatch atomic.Pointer[batch.Orchestrator]
	// Logging
	log *slog.Logger
}

// NewPseudonymizer creates a new Pseudonymizer with the store prepared but
// still locked. Call Open with the passphrase before processing.
func NewPseudonymizer(config *helper.DatabaseConfiguration) (*Pseudonymizer, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	store, err := database.NewStore(config, logger)
	if err != nil {
		return nil, helper.NewError("create mapping store", err)
	}

	return &Pseudonymizer{
		Store: store,
		pool:  assign.NewDefaultNamePool(),
		log:   logger,
	}, nil
}

// Open unlocks the store with the given passphrase. On a fresh store this
// initializes the key material, on an existing store a wrong passphrase
// returns database.ErrAuth.
func (p *Pseudonymizer) Open(passphrase string) error {
	return p.Store.Open(passphrase)
}

// Close locks the store and closes the database connection.
func (p *Pseudonymizer) Close() error {
	return p.Store.Close()
}

// SetDetector sets the detection function used for processing.
func (p *Pseudonymizer) SetDetector(detector detect.DetectFunc) {
	p.detector = detector
}

// UseDefaultDetector sets up the default detection stack: the
// distilbert-NER token classification model composed with the pattern
// based fallback detectors.
func (p *Pseudonymizer) UseDefaultDetector() error {
	ner, err := detect.DefaultNERDetector()
	if err != nil {
		return helper.NewError("create default detector", err)
	}
	p.detector = detect.Compose(ner, detect.DefaultPatternDetector())
	return nil
}

// SetNamePool replaces the pseudonym pool. The default is the built-in
// themed pool.
func (p *Pseudonymizer) SetNamePool(pool assign.NamePool) {
	p.pool = pool
}

// Analyze runs the read-only stages for one document: detection, overlap
// merge and entity clustering. The returned groups are in review order and
// have not touched the store, hand them to a validation session or to
// Apply.
func (p *Pseudonymizer) Analyze(ctx context.Context, document *model.Document) ([]*model.EntityGroup, error) {
	if p.detector == nil {
		return nil, helper.NewError("analyze document", fmt.Errorf("detector not set, use UseDefaultDetector() first"))
	}
	if document == nil || document.Content == "" {
		return nil, helper.NewError("analyze document", fmt.Errorf("document content is empty"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detections, err := p.detector(document.Content)
	if err != nil {
		return nil, helper.NewError("detect entities", err)
	}

	resolved := merge.Merge(detections, len(document.Content), p.log)
	groups := cluster.Cluster(resolved)

	p.log.Info("Analyzed document",
		slog.String("title", document.Title),
		slog.Int("detections", len(detections)),
		slog.Int("groups", len(groups)))
	return groups, nil
}

// ProcessDocument runs the full pipeline on one document under the auto
// accept policy: unambiguous groups are pseudonymized immediately,
// ambiguous groups are returned undecided and left unreplaced. The run is
// persisted in one transaction together with its operation log entry.
func (p *Pseudonymizer) ProcessDocument(ctx context.Context, document *model.Document) (*model.ProcessingResult, error) {
	groups, err := p.Analyze(ctx, document)
	if err != nil {
		return nil, err
	}
	return p.Apply(ctx, document, groups, 0)
}

// StartValidationSession opens a review session over analyzed groups with
// undo and redo. Finalize it with FinalizeSession.
func (p *Pseudonymizer) StartValidationSession(groups []*model.EntityGroup) *session.Session {
	return session.NewSession(groups)
}

// FinalizeSession closes a validation session and persists the reviewed
// run for the document the groups came from.
func (p *Pseudonymizer) FinalizeSession(ctx context.Context, document *model.Document, s *session.Session) (*model.ProcessingResult, error) {
	modifications := s.Modifications()
	return p.Apply(ctx, document, s.Finalize(), modifications)
}

// Apply assigns pseudonyms for the given groups and persists the run. The
// groups carry their decisions, undecided groups fall to accept, undecided
// ambiguous groups stay unresolved. Safe for concurrent use, runs are
// serialized.
func (p *Pseudonymizer) Apply(ctx context.Context, document *model.Document, groups []*model.EntityGroup, userModifications int) (*model.ProcessingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if document == nil {
		return nil, helper.NewError("apply processing run", fmt.Errorf("document is nil"))
	}

	// Reprocessing the same content reuses the existing document row, the
	// mapping lookups below then resolve to the already stored pseudonyms.
	reprocessed := false
	if known, err := p.Store.FindDocumentByHash(document.ContentHash()); err == nil {
		reprocessed = true
		document.RID = known.RID
		document.FirstProcessedAt = known.FirstProcessedAt
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, helper.NewError("check document hash", err)
	}

	assigner := assign.NewAssigner(p.Store, p.pool, p.log)
	result := &model.ProcessingResult{
		Document:    document,
		Groups:      groups,
		Reprocessed: reprocessed,
	}

	for _, group := range groups {
		if group.Ambiguous && group.Decision == nil {
			result.AmbiguousGroups++
			continue
		}
		resolution, err := assigner.Resolve(group, nil)
		if errors.Is(err, assign.ErrAmbiguous) {
			group.Ambiguous = true
			result.AmbiguousGroups++
			continue
		}
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("resolve group %q", group.Text), err)
		}
		result.Replacements = append(result.Replacements, resolution.Replacements...)
	}

	newRecords := assigner.NewRecords()
	reused := assigner.ReusedRIDs()
	result.NewMappings = len(newRecords)
	result.ReusedMappings = len(reused)
	result.Output = applyReplacements(document.Content, result.Replacements)

	document.EntityCount = len(groups)
	entry := &model.OperationLogEntry{
		Type:              model.OperationProcess,
		FilesProcessed:    1,
		EntityCount:       len(groups),
		DetectorVersion:   detect.Version,
		Theme:             p.pool.Theme(),
		UserModifications: userModifications,
	}
	if err := p.Store.SaveProcessingRun(ctx, newRecords, reused, document, entry); err != nil {
		return nil, helper.NewError("persist processing run", err)
	}

	p.log.Info("Processed document",
		slog.String("title", document.Title),
		slog.Int("new_mappings", result.NewMappings),
		slog.Int("reused_mappings", result.ReusedMappings),
		slog.Int("ambiguous_groups", result.AmbiguousGroups))
	return result, nil
}

// RunBatch processes documents concurrently under the given policy (nil
// selects the default policy). Analysis fans out over a worker pool, all
// store writes stay on a single writer. One BATCH summary entry is
// appended after the per document entries.
func (p *Pseudonymizer) RunBatch(ctx context.Context, documents []*model.Document, policy *model.BatchPolicy) (*model.BatchReport, error) {
	if p.detector == nil {
		return nil, helper.NewError("run batch", fmt.Errorf("detector not set, use UseDefaultDetector() first"))
	}

	commit := func(ctx context.Context, document *model.Document, groups []*model.EntityGroup) (*model.ProcessingResult, error) {
		return p.Apply(ctx, document, groups, 0)
	}
	orchestrator := batch.NewOrchestrator(p.Analyze, commit, policy, p.log)
	p.lastBatch.Store(orchestrator)

	report, err := orchestrator.Run(ctx, documents)
	if err != nil {
		return nil, helper.NewError("run batch", err)
	}

	entry := &model.OperationLogEntry{
		Type:            model.OperationBatch,
		FilesProcessed:  report.Processed,
		EntityCount:     report.EntityCount,
		DetectorVersion: detect.Version,
		Theme:           p.pool.Theme(),
		Details: model.Metadata{
			"failed":          report.Failed,
			"new_mappings":    report.NewMappings,
			"reused_mappings": report.ReusedMappings,
			"cancelled":       report.Cancelled,
		},
	}
	if err := p.Store.SaveProcessingRun(ctx, nil, nil, nil, entry); err != nil {
		return nil, helper.NewError("log batch run", err)
	}
	return report, nil
}

// BatchProgress returns the counters of the most recent batch run, safe to
// call from another goroutine while RunBatch is in flight.
func (p *Pseudonymizer) BatchProgress() batch.Progress {
	if orchestrator := p.lastBatch.Load(); orchestrator != nil {
		return orchestrator.Progress()
	}
	return batch.Progress{}
}

// ListEntities returns decrypted mapping records, optionally filtered by
// entity type.
func (p *Pseudonymizer) ListEntities(filter *model.ListFilter) ([]*model.MappingRecord, error) {
	return p.Store.ListMappings(filter)
}

// DeleteEntity erases one mapping and appends the ERASURE audit entry in
// the same transaction. Returns database.ErrNotFound for an unknown RID.
func (p *Pseudonymizer) DeleteEntity(ctx context.Context, rid uuid.UUID, reason string) error {
	entry := &model.OperationLogEntry{
		Type: model.OperationErasure,
		Details: model.Metadata{
			"mapping_rid": rid.String(),
			"reason":      reason,
		},
	}
	return p.Store.EraseMapping(ctx, rid, entry)
}

// ListOperations returns audit log entries, newest first.
func (p *Pseudonymizer) ListOperations(limit int) ([]*model.OperationLogEntry, error) {
	return p.Store.ListOperations(limit)
}

// Stats returns store counters.
func (p *Pseudonymizer) Stats() (*database.StoreStats, error) {
	return p.Store.Stats()
}

// DestroyStore irreversibly destroys all mapping data. The operation log
// survives with the final DESTROY entry as evidence.
func (p *Pseudonymizer) DestroyStore(ctx context.Context) error {
	entry := &model.OperationLogEntry{
		Type: model.OperationDestroy,
	}
	return p.Store.Destroy(ctx, entry)
}

// applyReplacements splices the pseudonyms into the content back to front
// so earlier offsets stay valid. When kept overlapping spans collide, the
// later span wins and the overlapped one is left as is.
func applyReplacements(content string, replacements []model.Replacement) string {
	if len(replacements) == 0 {
		return content
	}

	sorted := make([]model.Replacement, len(replacements))
	copy(sorted, replacements)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start > sorted[j].Start
	})

	out := content
	appliedStart := len(content) + 1
	for _, replacement := range sorted {
		if replacement.Start < 0 || replacement.End > len(content) || replacement.End > appliedStart {
			continue
		}
		out = out[:replacement.Start] + replacement.Pseudonym + out[replacement.End:]
		appliedStart = replacement.Start
	}
	return out
}

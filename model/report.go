package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingResult is the outcome of processing a single document.
type ProcessingResult struct {
	Document *Document `json:"document"`
	// Groups holds all review units, including ambiguous ones that were
	// left undecided and therefore unreplaced.
	Groups       []*EntityGroup `json:"groups"`
	Replacements []Replacement  `json:"replacements"`
	// Output is the document text with all replacements applied.
	Output         string `json:"output"`
	NewMappings    int    `json:"new_mappings"`
	ReusedMappings int    `json:"reused_mappings"`
	// AmbiguousGroups counts groups returned for human resolution.
	AmbiguousGroups int `json:"ambiguous_groups"`
	// Reprocessed is true when the document content hash was already known.
	Reprocessed bool `json:"reprocessed"`
}

// BatchPolicy configures a batch run.
type BatchPolicy struct {
	// Concurrency caps the worker pool, independent of document count.
	Concurrency int `json:"concurrency"`
	// ContinueOnError keeps the batch running past per document failures.
	ContinueOnError bool `json:"continue_on_error"`
}

// DefaultBatchPolicy returns the policy used when the caller passes nil.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{
		Concurrency:     4,
		ContinueOnError: true,
	}
}

// BatchError records one failed document of a batch.
type BatchError struct {
	DocumentRID uuid.UUID `json:"document_rid"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
}

// BatchReport aggregates the outcome of a batch run.
type BatchReport struct {
	Processed      int           `json:"processed"`
	Failed         int           `json:"failed"`
	Errors         []BatchError  `json:"errors,omitempty"`
	EntityCount    int           `json:"entity_count"`
	NewMappings    int           `json:"new_mappings"`
	ReusedMappings int           `json:"reused_mappings"`
	Duration       time.Duration `json:"duration"`
	// Cancelled is true when the run stopped on a cancellation signal.
	Cancelled bool `json:"cancelled,omitempty"`
}

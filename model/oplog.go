package model

import "time"

// OperationType classifies audit log entries.
type OperationType string

const (
	OperationProcess OperationType = "PROCESS"
	OperationBatch   OperationType = "BATCH"
	OperationErasure OperationType = "ERASURE"
	OperationDestroy OperationType = "DESTROY"
)

// OperationLogEntry is one append-only audit record. Entries are created on
// every store mutating operation and never updated or deleted, erasing a
// mapping appends an ERASURE entry instead of removing history.
type OperationLogEntry struct {
	ID                int64         `json:"id"`
	Type              OperationType `json:"operation_type"`
	FilesProcessed    int           `json:"files_processed"`
	EntityCount       int           `json:"entity_count"`
	DetectorVersion   string        `json:"detector_version"`
	Theme             string        `json:"theme_selected"`
	UserModifications int           `json:"user_modifications_count"`
	Details           Metadata      `json:"details,omitempty"`
	CreatedAt         time.Time     `json:"timestamp"`
}

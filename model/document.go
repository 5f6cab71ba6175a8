package model

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Document represents a source document handed to the engine. Content is
// only used for processing, the store persists the content hash, title and
// source, never the text itself.
type Document struct {
	ID       int64     `json:"id"`
	RID      uuid.UUID `json:"rid"`
	Title    string    `json:"title"`
	Source   string    `json:"source,omitempty"`
	Content  string    `json:"content,omitempty" db:"-"` // Temporary field for processing, not stored in DB
	Metadata Metadata  `json:"metadata,omitempty"`
	// EntityCount is the number of entities found on the last processing run.
	EntityCount      int       `json:"entity_count"`
	FirstProcessedAt time.Time `json:"first_processed_at"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
}

// ContentHash returns the hex encoded SHA-256 of the document content,
// used as the idempotency key for repeated processing runs.
func (d *Document) ContentHash() string {
	sum := sha256.Sum256([]byte(d.Content))
	return hex.EncodeToString(sum[:])
}

// NewDocumentFromFile reads a file and creates a Document with the file content.
// The title defaults to the filename, and source to the file path.
func NewDocumentFromFile(filePath string, metadata Metadata) (*Document, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	// Get filename without extension for default title
	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	return &Document{
		Title:    title,
		Source:   filePath,
		Content:  string(content),
		Metadata: metadata,
	}, nil
}

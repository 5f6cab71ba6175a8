package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
	loadSql "github.com/siherrmann/pseudonymizer/sql"
)

// DocumentsDBHandlerFunctions defines the interface for processed document database operations.
type DocumentsDBHandlerFunctions interface {
	UpsertDocument(q Querier, document *model.Document) error
	SelectDocumentByHash(contentHash string) (*model.Document, error)
	SelectAllDocuments(limit int) ([]*model.Document, error)
	CountDocuments() (int64, error)
}

// DocumentsDBHandler handles the processed document index used for
// idempotent reprocessing. Only the content hash and descriptive fields
// are stored, never the document text.
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It loads the document SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'processed_documents' table in the database.
// If the table already exists, it does not create it again.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_processed_documents();`)
	if err != nil {
		log.Panicf("error initializing processed_documents table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table processed_documents")

	return nil
}

// UpsertDocument inserts a document record or, when the content hash is
// already known, updates its entity count and last processed timestamp.
// The document's ID, RID and timestamps are filled in from the returned row.
func (h *DocumentsDBHandler) UpsertDocument(q Querier, document *model.Document) error {
	row := q.QueryRow(
		`SELECT * FROM upsert_processed_document($1, $2, $3, $4, $5)`,
		document.Title,
		document.Source,
		document.ContentHash(),
		document.EntityCount,
		document.Metadata,
	)

	scanned, err := scanDocument(row)
	if err != nil {
		return helper.NewError("scan", err)
	}

	document.ID = scanned.ID
	document.RID = scanned.RID
	document.FirstProcessedAt = scanned.FirstProcessedAt
	document.LastProcessedAt = scanned.LastProcessedAt

	return nil
}

// SelectDocumentByHash retrieves a document record by content hash.
// Returns ErrNotFound when the document was never processed.
func (h *DocumentsDBHandler) SelectDocumentByHash(contentHash string) (*model.Document, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_processed_document_by_hash($1)`,
		contentHash,
	)

	document, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return document, nil
}

// SelectAllDocuments retrieves document records in processing order.
func (h *DocumentsDBHandler) SelectAllDocuments(limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_processed_documents($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var documents []*model.Document
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		documents = append(documents, document)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return documents, nil
}

// CountDocuments counts all processed document records.
func (h *DocumentsDBHandler) CountDocuments() (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(`SELECT count_processed_documents()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// scanDocument scans one processed_documents row. The content hash column
// is intentionally not mapped back onto the document.
func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		document    model.Document
		contentHash string
		metadata    model.Metadata
	)

	err := row.Scan(
		&document.ID,
		&document.RID,
		&document.Title,
		&document.Source,
		&contentHash,
		&document.EntityCount,
		&metadata,
		&document.FirstProcessedAt,
		&document.LastProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	document.Metadata = metadata

	return &document, nil
}

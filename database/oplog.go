package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
	loadSql "github.com/siherrmann/pseudonymizer/sql"
)

// OperationLogDBHandlerFunctions defines the interface for operation log database operations.
type OperationLogDBHandlerFunctions interface {
	AppendEntry(q Querier, entry *model.OperationLogEntry) error
	SelectEntries(limit int) ([]*model.OperationLogEntry, error)
	CountEntries() (int64, error)
}

// OperationLogDBHandler handles the append-only audit log.
type OperationLogDBHandler struct {
	db *helper.Database
}

// NewOperationLogDBHandler creates a new operation log database handler.
// It loads the operation log SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewOperationLogDBHandler(db *helper.Database, force bool) (*OperationLogDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	operationLogDbHandler := &OperationLogDBHandler{
		db: db,
	}

	err := loadSql.LoadOperationLogSql(db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load operation log sql", err)
	}

	err = operationLogDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized OperationLogDBHandler")

	return operationLogDbHandler, nil
}

// CreateTable creates the 'operation_log' table in the database.
// If the table already exists, it does not create it again.
// It also installs the immutability trigger.
func (h *OperationLogDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_operation_log();`)
	if err != nil {
		log.Panicf("error initializing operation_log table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table operation_log")

	return nil
}

// AppendEntry appends one audit entry. The entry's ID and timestamp are
// filled in from the returned row.
func (h *OperationLogDBHandler) AppendEntry(q Querier, entry *model.OperationLogEntry) error {
	row := q.QueryRow(
		`SELECT * FROM append_operation_log_entry($1, $2, $3, $4, $5, $6, $7)`,
		entry.Type,
		entry.FilesProcessed,
		entry.EntityCount,
		entry.DetectorVersion,
		entry.Theme,
		entry.UserModifications,
		entry.Details,
	)

	scanned, err := scanOperationLogEntry(row)
	if err != nil {
		return helper.NewError("scan", err)
	}

	entry.ID = scanned.ID
	entry.CreatedAt = scanned.CreatedAt

	return nil
}

// SelectEntries retrieves the most recent audit entries, newest first.
func (h *OperationLogDBHandler) SelectEntries(limit int) ([]*model.OperationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_operation_log_entries($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entries []*model.OperationLogEntry
	for rows.Next() {
		entry, err := scanOperationLogEntry(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		entries = append(entries, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entries, nil
}

// CountEntries counts all audit entries.
func (h *OperationLogDBHandler) CountEntries() (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(`SELECT count_operation_log_entries()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// scanOperationLogEntry scans one operation_log row.
func scanOperationLogEntry(row rowScanner) (*model.OperationLogEntry, error) {
	var (
		entry   model.OperationLogEntry
		details model.Metadata
	)

	err := row.Scan(
		&entry.ID,
		&entry.Type,
		&entry.FilesProcessed,
		&entry.EntityCount,
		&entry.DetectorVersion,
		&entry.Theme,
		&entry.UserModifications,
		&details,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Details = details

	return &entry, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
	loadSql "github.com/siherrmann/pseudonymizer/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so mutating handler
// methods can run inside a store transaction.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// MappingsDBHandlerFunctions defines the interface for entity mapping database operations.
type MappingsDBHandlerFunctions interface {
	InsertMapping(q Querier, record *model.MappingRecord) error
	TouchMapping(q Querier, rid uuid.UUID) error
	DeleteMapping(q Querier, rid uuid.UUID) (bool, error)
	SelectMappingByFullName(entityType model.EntityType, fullName string) (*model.MappingRecord, error)
	SelectMappingsByFirstName(firstName string) ([]*model.MappingRecord, error)
	SelectMappingsByLastName(lastName string) ([]*model.MappingRecord, error)
	PseudonymFirstInUse(pseudonymFirst string) (bool, error)
	PseudonymLastInUse(pseudonymLast string) (bool, error)
	SelectAllMappings(filter *model.ListFilter) ([]*model.MappingRecord, error)
	CountMappings(entityType *model.EntityType) (int64, error)
	Scramble(q Querier) error
}

// MappingsDBHandler handles entity mapping database operations. Name and
// pseudonym columns are sealed with the store cipher before they reach the
// driver and opened again after scanning.
type MappingsDBHandler struct {
	db     *helper.Database
	cipher *helper.Cipher
}

// NewMappingsDBHandler creates a new mappings database handler.
// It loads the mapping SQL functions and creates the table.
// If force is true, it will reload the SQL functions even if they already exist.
func NewMappingsDBHandler(db *helper.Database, cipher *helper.Cipher, force bool) (*MappingsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if cipher == nil {
		return nil, helper.NewError("cipher validation", fmt.Errorf("cipher is nil"))
	}

	mappingsDbHandler := &MappingsDBHandler{
		db:     db,
		cipher: cipher,
	}

	err := loadSql.LoadMappingsSql(db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load mappings sql", err)
	}

	err = mappingsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MappingsDBHandler")

	return mappingsDbHandler, nil
}

// CreateTable creates the 'entity_mappings' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *MappingsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entity_mappings();`)
	if err != nil {
		log.Panicf("error initializing entity_mappings table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entity_mappings")

	return nil
}

// InsertMapping inserts a new mapping record with all sensitive columns
// encrypted. The record's ID, RID and timestamps are filled in from the
// returned row.
func (h *MappingsDBHandler) InsertMapping(q Querier, record *model.MappingRecord) error {
	firstName, firstHash, err := h.sealOptional(record.FirstName)
	if err != nil {
		return err
	}
	lastName, lastHash, err := h.sealOptional(record.LastName)
	if err != nil {
		return err
	}
	fullName, err := h.cipher.Seal(record.FullName)
	if err != nil {
		return helper.NewError("seal full name", err)
	}
	pseudonymFirst, pseudonymFirstHash, err := h.sealOptional(record.PseudonymFirst)
	if err != nil {
		return err
	}
	pseudonymLast, pseudonymLastHash, err := h.sealOptional(record.PseudonymLast)
	if err != nil {
		return err
	}
	pseudonymFull, err := h.cipher.Seal(record.PseudonymFull)
	if err != nil {
		return helper.NewError("seal pseudonym", err)
	}

	var gender *string
	if record.Gender != nil {
		g := string(*record.Gender)
		gender = &g
	}

	row := q.QueryRow(
		`SELECT * FROM insert_entity_mapping($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.Type,
		firstName,
		lastName,
		fullName,
		pseudonymFirst,
		pseudonymLast,
		pseudonymFull,
		h.cipher.BlindIndex(model.NormalizeName(record.FullName)),
		firstHash,
		lastHash,
		pseudonymFirstHash,
		pseudonymLastHash,
		gender,
		record.Confidence,
		record.Fallback,
	)

	scanned, err := h.scanMapping(row)
	if err != nil {
		return helper.NewError("scan", err)
	}

	record.ID = scanned.ID
	record.RID = scanned.RID
	record.CreatedAt = scanned.CreatedAt
	record.LastUsedAt = scanned.LastUsedAt

	return nil
}

// TouchMapping updates the last used timestamp of a mapping.
func (h *MappingsDBHandler) TouchMapping(q Querier, rid uuid.UUID) error {
	_, err := q.Exec(
		`SELECT touch_entity_mapping($1)`,
		rid,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteMapping deletes a mapping by RID and reports whether it existed.
func (h *MappingsDBHandler) DeleteMapping(q Querier, rid uuid.UUID) (bool, error) {
	var deleted bool
	err := q.QueryRow(
		`SELECT delete_entity_mapping($1)`,
		rid,
	).Scan(&deleted)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return deleted, nil
}

// SelectMappingByFullName retrieves a mapping by entity type and full name.
// Returns ErrNotFound when no record matches.
func (h *MappingsDBHandler) SelectMappingByFullName(entityType model.EntityType, fullName string) (*model.MappingRecord, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_entity_mapping_by_full_name($1, $2)`,
		entityType,
		h.cipher.BlindIndex(model.NormalizeName(fullName)),
	)

	record, err := h.scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// SelectMappingsByFirstName retrieves all mappings sharing a first name component.
func (h *MappingsDBHandler) SelectMappingsByFirstName(firstName string) ([]*model.MappingRecord, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entity_mappings_by_first_name($1)`,
		h.cipher.BlindIndex(model.NormalizeName(firstName)),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return h.scanMappings(rows)
}

// SelectMappingsByLastName retrieves all mappings sharing a last name component.
func (h *MappingsDBHandler) SelectMappingsByLastName(lastName string) ([]*model.MappingRecord, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entity_mappings_by_last_name($1)`,
		h.cipher.BlindIndex(model.NormalizeName(lastName)),
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return h.scanMappings(rows)
}

// PseudonymFirstInUse reports whether a pseudonym first name is already
// assigned to any record.
func (h *MappingsDBHandler) PseudonymFirstInUse(pseudonymFirst string) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRow(
		`SELECT pseudonym_first_exists($1)`,
		h.cipher.BlindIndex(model.NormalizeName(pseudonymFirst)),
	).Scan(&exists)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return exists, nil
}

// PseudonymLastInUse reports whether a pseudonym last name is already
// assigned to any record.
func (h *MappingsDBHandler) PseudonymLastInUse(pseudonymLast string) (bool, error) {
	var exists bool
	err := h.db.Instance.QueryRow(
		`SELECT pseudonym_last_exists($1)`,
		h.cipher.BlindIndex(model.NormalizeName(pseudonymLast)),
	).Scan(&exists)
	if err != nil {
		return false, helper.NewError("scan", err)
	}
	return exists, nil
}

// SelectAllMappings lists mapping records, optionally filtered by type.
// Records whose ciphertext fails authentication are skipped with a warning,
// a single corrupted record does not make the store unusable.
func (h *MappingsDBHandler) SelectAllMappings(filter *model.ListFilter) ([]*model.MappingRecord, error) {
	limit := 1000
	var entityType *model.EntityType
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		entityType = filter.Type
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_entity_mappings($1, $2)`,
		entityType,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return h.scanMappings(rows)
}

// CountMappings counts mapping records, optionally per type. Counting uses
// plaintext columns only and works without decryption.
func (h *MappingsDBHandler) CountMappings(entityType *model.EntityType) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(
		`SELECT count_entity_mappings($1)`,
		entityType,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// Scramble overwrites every sensitive column with random bytes. Part of the
// destroy sequence.
func (h *MappingsDBHandler) Scramble(q Querier) error {
	_, err := q.Exec(`SELECT scramble_entity_mappings()`)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// sealOptional encrypts an optional component and computes its blind index.
// Empty components stay NULL in both columns.
func (h *MappingsDBHandler) sealOptional(value string) ([]byte, []byte, error) {
	if value == "" {
		return nil, nil, nil
	}
	sealed, err := h.cipher.Seal(value)
	if err != nil {
		return nil, nil, helper.NewError("seal value", err)
	}
	return sealed, h.cipher.BlindIndex(model.NormalizeName(value)), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMapping scans and decrypts one entity_mappings row.
func (h *MappingsDBHandler) scanMapping(row rowScanner) (*model.MappingRecord, error) {
	var (
		record             model.MappingRecord
		firstName          []byte
		lastName           []byte
		fullName           []byte
		pseudonymFirst     []byte
		pseudonymLast      []byte
		pseudonymFull      []byte
		fullNameHash       []byte
		firstNameHash      []byte
		lastNameHash       []byte
		pseudonymFirstHash []byte
		pseudonymLastHash  []byte
		gender             sql.NullString
		confidence         sql.NullFloat64
	)

	err := row.Scan(
		&record.ID,
		&record.RID,
		&record.Type,
		&firstName,
		&lastName,
		&fullName,
		&pseudonymFirst,
		&pseudonymLast,
		&pseudonymFull,
		&fullNameHash,
		&firstNameHash,
		&lastNameHash,
		&pseudonymFirstHash,
		&pseudonymLastHash,
		&gender,
		&confidence,
		&record.Fallback,
		&record.CreatedAt,
		&record.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	if gender.Valid {
		g := model.Gender(gender.String)
		record.Gender = &g
	}
	if confidence.Valid {
		v := confidence.Float64
		record.Confidence = &v
	}

	record.FullName, err = h.cipher.Open(fullName)
	if err != nil {
		return nil, fmt.Errorf("%w: full name of record %s: %v", ErrIntegrity, record.RID, err)
	}
	record.PseudonymFull, err = h.cipher.Open(pseudonymFull)
	if err != nil {
		return nil, fmt.Errorf("%w: pseudonym of record %s: %v", ErrIntegrity, record.RID, err)
	}
	record.FirstName, err = h.openOptional(firstName, record.RID)
	if err != nil {
		return nil, err
	}
	record.LastName, err = h.openOptional(lastName, record.RID)
	if err != nil {
		return nil, err
	}
	record.PseudonymFirst, err = h.openOptional(pseudonymFirst, record.RID)
	if err != nil {
		return nil, err
	}
	record.PseudonymLast, err = h.openOptional(pseudonymLast, record.RID)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// scanMappings scans a result set, skipping corrupted records with a warning.
func (h *MappingsDBHandler) scanMappings(rows *sql.Rows) ([]*model.MappingRecord, error) {
	var records []*model.MappingRecord
	for rows.Next() {
		record, err := h.scanMapping(rows)
		if errors.Is(err, ErrIntegrity) {
			h.db.Logger.Warn("Skipping corrupted mapping record", slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		records = append(records, record)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return records, nil
}

// openOptional decrypts an optional component, NULL stays empty.
func (h *MappingsDBHandler) openOptional(sealed []byte, rid uuid.UUID) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	value, err := h.cipher.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: component of record %s: %v", ErrIntegrity, rid, err)
	}
	return value, nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/pseudonymizer/helper"
	"github.com/siherrmann/pseudonymizer/model"
	loadSql "github.com/siherrmann/pseudonymizer/sql"
)

// SchemaVersion is written to the store metadata at initialization.
const SchemaVersion = "1"

var (
	// ErrAuth is returned when the passphrase fails verification.
	ErrAuth = errors.New("authentication failed")
	// ErrLocked is returned when the store is accessed before Open.
	ErrLocked = errors.New("store is locked")
	// ErrClosed is returned when the store is accessed after Close or Destroy.
	ErrClosed = errors.New("store is closed")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrIntegrity is returned when a stored ciphertext fails authentication.
	ErrIntegrity = errors.New("record integrity check failed")
)

// Store metadata keys.
const (
	metaKeySalt          = "salt"
	metaKeyKDFTime       = "kdf_time"
	metaKeyKDFMemory     = "kdf_memory"
	metaKeyKDFThreads    = "kdf_threads"
	metaKeyKeyCheck      = "key_check"
	metaKeySchemaVersion = "schema_version"
)

// StoreState tracks the lifecycle of a store connection.
type StoreState int

const (
	// StateUninitialized means the database holds no store yet, the first
	// Open initializes it with the given passphrase.
	StateUninitialized StoreState = iota
	// StateLocked means the store exists but no passphrase was verified yet.
	StateLocked
	// StateOpen means the cipher is derived and all operations are available.
	StateOpen
	// StateClosed means the store was closed or destroyed.
	StateClosed
)

func (s StoreState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StoreStats summarizes the store contents without decrypting any record.
type StoreStats struct {
	Mappings         int64 `json:"mappings"`
	PersonMappings   int64 `json:"person_mappings"`
	OrgMappings      int64 `json:"org_mappings"`
	LocationMappings int64 `json:"location_mappings"`
	Documents        int64 `json:"documents"`
	Operations       int64 `json:"operations"`
}

// Store is the encrypted mapping store. It owns the database connection,
// the lifecycle state and the handlers created on Open. All mutating
// operations run in a transaction together with exactly one operation log
// entry, so the audit trail can never get out of sync with the data.
type Store struct {
	DB           *helper.Database
	Mappings     *MappingsDBHandler
	OperationLog *OperationLogDBHandler
	Documents    *DocumentsDBHandler

	mu    sync.RWMutex
	state StoreState
}

// NewStore connects to the database, initializes extensions and the
// metadata table and determines whether a store already exists. The
// returned store is locked (or uninitialized) until Open is called.
func NewStore(config *helper.DatabaseConfiguration, logger *slog.Logger) (*Store, error) {
	if config == nil {
		return nil, helper.NewError("configuration validation", fmt.Errorf("configuration is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	db := helper.NewDatabase("pseudonymizer", config, logger)

	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("init database extensions", err)
	}
	err = loadSql.LoadMetadataSql(db.Instance, false)
	if err != nil {
		return nil, helper.NewError("load metadata sql", err)
	}
	_, err = db.Instance.Exec(`SELECT init_store_metadata();`)
	if err != nil {
		return nil, helper.NewError("create metadata table", err)
	}

	store := &Store{
		DB:    db,
		state: StateUninitialized,
	}

	salt, err := store.getMetadata(metaKeySalt)
	if err != nil {
		return nil, helper.NewError("read store metadata", err)
	}
	if len(salt) > 0 {
		store.state = StateLocked
	}

	db.Logger.Info("Store connected", slog.String("state", store.state.String()))

	return store, nil
}

// State returns the current lifecycle state.
func (s *Store) State() StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Open verifies the passphrase, derives the cipher and creates the table
// handlers. On an uninitialized store it bootstraps the metadata (salt, key
// derivation parameters, key check and schema version) first. A wrong
// passphrase returns ErrAuth and leaves the store locked.
func (s *Store) Open(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	}

	var cipher *helper.Cipher
	var err error
	if s.state == StateUninitialized {
		cipher, err = s.initializeMetadata(passphrase)
	} else {
		cipher, err = s.verifyPassphrase(passphrase)
	}
	if err != nil {
		return err
	}

	s.Mappings, err = NewMappingsDBHandler(s.DB, cipher, false)
	if err != nil {
		return helper.NewError("create mappings handler", err)
	}
	s.OperationLog, err = NewOperationLogDBHandler(s.DB, false)
	if err != nil {
		return helper.NewError("create operation log handler", err)
	}
	s.Documents, err = NewDocumentsDBHandler(s.DB, false)
	if err != nil {
		return helper.NewError("create documents handler", err)
	}

	s.state = StateOpen
	s.DB.Logger.Info("Store opened")

	return nil
}

// Close transitions the store to closed and closes the database connection.
// A closed store cannot be reopened, create a new Store instead.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	s.state = StateClosed
	s.Mappings = nil
	s.OperationLog = nil
	s.Documents = nil

	return s.DB.Close()
}

// initializeMetadata bootstraps a fresh store in a single transaction.
func (s *Store) initializeMetadata(passphrase string) (*helper.Cipher, error) {
	salt, err := helper.NewSalt()
	if err != nil {
		return nil, helper.NewError("generate salt", err)
	}
	params := helper.DefaultKDFParams()

	cipher, err := helper.NewCipher(passphrase, salt, params)
	if err != nil {
		return nil, helper.NewError("derive key", err)
	}
	keyCheck, err := cipher.KeyCheck()
	if err != nil {
		return nil, helper.NewError("seal key check", err)
	}

	tx, err := s.DB.Instance.Begin()
	if err != nil {
		return nil, helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	metadata := map[string][]byte{
		metaKeySalt:          salt,
		metaKeyKDFTime:       []byte(strconv.FormatUint(uint64(params.Time), 10)),
		metaKeyKDFMemory:     []byte(strconv.FormatUint(uint64(params.Memory), 10)),
		metaKeyKDFThreads:    []byte(strconv.FormatUint(uint64(params.Threads), 10)),
		metaKeyKeyCheck:      keyCheck,
		metaKeySchemaVersion: []byte(SchemaVersion),
	}
	for key, value := range metadata {
		_, err = tx.Exec(`SELECT upsert_store_metadata($1, $2)`, key, value)
		if err != nil {
			return nil, helper.NewError("write store metadata", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return nil, helper.NewError("commit transaction", err)
	}

	s.DB.Logger.Info("Store initialized", slog.String("schema_version", SchemaVersion))

	return cipher, nil
}

// verifyPassphrase derives the cipher with the stored parameters and checks
// it against the stored key check value.
func (s *Store) verifyPassphrase(passphrase string) (*helper.Cipher, error) {
	salt, err := s.getMetadata(metaKeySalt)
	if err != nil {
		return nil, helper.NewError("read salt", err)
	}
	params, err := s.readKDFParams()
	if err != nil {
		return nil, err
	}
	keyCheck, err := s.getMetadata(metaKeyKeyCheck)
	if err != nil {
		return nil, helper.NewError("read key check", err)
	}

	cipher, err := helper.NewCipher(passphrase, salt, params)
	if err != nil {
		return nil, helper.NewError("derive key", err)
	}
	err = cipher.VerifyKeyCheck(keyCheck)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	return cipher, nil
}

// readKDFParams reads the persisted key derivation parameters.
func (s *Store) readKDFParams() (helper.KDFParams, error) {
	var params helper.KDFParams

	timeValue, err := s.getMetadataUint(metaKeyKDFTime)
	if err != nil {
		return params, helper.NewError("read kdf time", err)
	}
	memory, err := s.getMetadataUint(metaKeyKDFMemory)
	if err != nil {
		return params, helper.NewError("read kdf memory", err)
	}
	threads, err := s.getMetadataUint(metaKeyKDFThreads)
	if err != nil {
		return params, helper.NewError("read kdf threads", err)
	}

	params.Time = uint32(timeValue)
	params.Memory = uint32(memory)
	params.Threads = uint8(threads)

	return params, nil
}

func (s *Store) getMetadata(key string) ([]byte, error) {
	var value []byte
	err := s.DB.Instance.QueryRow(`SELECT select_store_metadata($1)`, key).Scan(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) getMetadataUint(key string) (uint64, error) {
	value, err := s.getMetadata(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(value), 10, 32)
}

// requireOpen returns the sentinel error matching the current state if the
// store is not open.
func (s *Store) requireOpen() error {
	switch s.state {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrLocked
	}
}

// SaveProcessingRun persists the outcome of one document processing run in
// a single transaction: new mappings are inserted, reused mappings get
// their last used timestamp updated, the document record is upserted and
// exactly one operation log entry is appended. Either everything commits
// or nothing does.
func (s *Store) SaveProcessingRun(ctx context.Context, newMappings []*model.MappingRecord, reused []uuid.UUID, document *model.Document, entry *model.OperationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return err
	}
	if entry == nil {
		return helper.NewError("entry validation", fmt.Errorf("operation log entry is nil"))
	}

	tx, err := s.DB.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, record := range newMappings {
		err = s.Mappings.InsertMapping(tx, record)
		if err != nil {
			return helper.NewError("insert mapping", err)
		}
	}
	for _, rid := range reused {
		err = s.Mappings.TouchMapping(tx, rid)
		if err != nil {
			return helper.NewError("touch mapping", err)
		}
	}
	if document != nil {
		err = s.Documents.UpsertDocument(tx, document)
		if err != nil {
			return helper.NewError("upsert document", err)
		}
	}
	err = s.OperationLog.AppendEntry(tx, entry)
	if err != nil {
		return helper.NewError("append operation log entry", err)
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	return nil
}

// EraseMapping removes one mapping and appends an ERASURE entry in the same
// transaction. Returns ErrNotFound when the mapping does not exist, in that
// case no log entry is written.
func (s *Store) EraseMapping(ctx context.Context, rid uuid.UUID, entry *model.OperationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return err
	}
	if entry == nil {
		return helper.NewError("entry validation", fmt.Errorf("operation log entry is nil"))
	}
	entry.Type = model.OperationErasure

	tx, err := s.DB.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	deleted, err := s.Mappings.DeleteMapping(tx, rid)
	if err != nil {
		return helper.NewError("delete mapping", err)
	}
	if !deleted {
		return ErrNotFound
	}

	err = s.OperationLog.AppendEntry(tx, entry)
	if err != nil {
		return helper.NewError("append operation log entry", err)
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	return nil
}

// Destroy irreversibly removes the store: it appends a final DESTROY entry,
// overwrites every sensitive column with random bytes and then drops the
// mapping, document and metadata tables, all in one transaction. The
// operation log table is kept as evidence that the destruction happened.
// The store transitions to closed, the connection stays open until Close.
func (s *Store) Destroy(ctx context.Context, entry *model.OperationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return err
	}
	if entry == nil {
		entry = &model.OperationLogEntry{}
	}
	entry.Type = model.OperationDestroy

	tx, err := s.DB.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = s.OperationLog.AppendEntry(tx, entry)
	if err != nil {
		return helper.NewError("append operation log entry", err)
	}
	err = s.Mappings.Scramble(tx)
	if err != nil {
		return helper.NewError("scramble mappings", err)
	}
	_, err = tx.Exec(`DROP TABLE IF EXISTS entity_mappings, processed_documents, store_metadata;`)
	if err != nil {
		return helper.NewError("drop tables", err)
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	s.state = StateClosed
	s.Mappings = nil
	s.Documents = nil
	s.DB.Logger.Info("Store destroyed")

	return nil
}

// FindMappingByFullName retrieves a mapping by entity type and full name.
func (s *Store) FindMappingByFullName(entityType model.EntityType, fullName string) (*model.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.Mappings.SelectMappingByFullName(entityType, fullName)
}

// FindMappingsByFirstName retrieves all mappings sharing a first name component.
func (s *Store) FindMappingsByFirstName(firstName string) ([]*model.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.Mappings.SelectMappingsByFirstName(firstName)
}

// FindMappingsByLastName retrieves all mappings sharing a last name component.
func (s *Store) FindMappingsByLastName(lastName string) ([]*model.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.Mappings.SelectMappingsByLastName(lastName)
}

// PseudonymFirstInUse reports whether a pseudonym first name is taken.
func (s *Store) PseudonymFirstInUse(pseudonymFirst string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return false, err
	}
	return s.Mappings.PseudonymFirstInUse(pseudonymFirst)
}

// PseudonymLastInUse reports whether a pseudonym last name is taken.
func (s *Store) PseudonymLastInUse(pseudonymLast string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return false, err
	}
	return s.Mappings.PseudonymLastInUse(pseudonymLast)
}

// ListMappings lists mapping records, optionally filtered by type.
func (s *Store) ListMappings(filter *model.ListFilter) ([]*model.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.Mappings.SelectAllMappings(filter)
}

// ListOperations retrieves the most recent audit entries, newest first.
func (s *Store) ListOperations(limit int) ([]*model.OperationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.OperationLog.SelectEntries(limit)
}

// FindDocumentByHash retrieves a processed document record by content hash.
func (s *Store) FindDocumentByHash(contentHash string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	return s.Documents.SelectDocumentByHash(contentHash)
}

// Stats summarizes the store contents.
func (s *Store) Stats() (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, err
	}

	stats := &StoreStats{}
	var err error

	stats.Mappings, err = s.Mappings.CountMappings(nil)
	if err != nil {
		return nil, helper.NewError("count mappings", err)
	}

	counts := map[model.EntityType]*int64{
		model.EntityPerson:       &stats.PersonMappings,
		model.EntityOrganization: &stats.OrgMappings,
		model.EntityLocation:     &stats.LocationMappings,
	}
	for entityType, target := range counts {
		t := entityType
		*target, err = s.Mappings.CountMappings(&t)
		if err != nil {
			return nil, helper.NewError("count mappings by type", err)
		}
	}

	stats.Documents, err = s.Documents.CountDocuments()
	if err != nil {
		return nil, helper.NewError("count documents", err)
	}
	stats.Operations, err = s.OperationLog.CountEntries()
	if err != nil {
		return nil, helper.NewError("count operations", err)
	}

	return stats, nil
}

package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed metadata.sql
var metadataSQL string

//go:embed mappings.sql
var mappingsSQL string

//go:embed oplog.sql
var oplogSQL string

//go:embed documents.sql
var documentsSQL string

// Function lists for verification
var MetadataFunctions = []string{
	"init_store_metadata",
	"upsert_store_metadata",
	"select_store_metadata",
}

var MappingsFunctions = []string{
	"init_entity_mappings",
	"insert_entity_mapping",
	"select_entity_mapping_by_full_name",
	"select_entity_mappings_by_first_name",
	"select_entity_mappings_by_last_name",
	"pseudonym_first_exists",
	"pseudonym_last_exists",
	"select_all_entity_mappings",
	"delete_entity_mapping",
	"touch_entity_mapping",
	"count_entity_mappings",
	"scramble_entity_mappings",
}

var OperationLogFunctions = []string{
	"operation_log_immutable",
	"init_operation_log",
	"append_operation_log_entry",
	"select_operation_log_entries",
	"count_operation_log_entries",
}

var DocumentsFunctions = []string{
	"init_processed_documents",
	"upsert_processed_document",
	"select_processed_document_by_hash",
	"select_all_processed_documents",
	"count_processed_documents",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadMetadataSql loads store metadata SQL functions
func LoadMetadataSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, MetadataFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing metadata functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(metadataSQL)
	if err != nil {
		return fmt.Errorf("error executing metadata SQL: %w", err)
	}

	exist, err := checkFunctions(db, MetadataFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL metadata functions loaded successfully")
	return nil
}

// LoadMappingsSql loads entity mapping SQL functions
func LoadMappingsSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, MappingsFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing mappings functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(mappingsSQL)
	if err != nil {
		return fmt.Errorf("error executing mappings SQL: %w", err)
	}

	exist, err := checkFunctions(db, MappingsFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL mappings functions loaded successfully")
	return nil
}

// LoadOperationLogSql loads operation log SQL functions
func LoadOperationLogSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, OperationLogFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing operation log functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(oplogSQL)
	if err != nil {
		return fmt.Errorf("error executing operation log SQL: %w", err)
	}

	exist, err := checkFunctions(db, OperationLogFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL operation log functions loaded successfully")
	return nil
}

// LoadDocumentsSql loads processed document SQL functions
func LoadDocumentsSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, DocumentsFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing documents functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(documentsSQL)
	if err != nil {
		return fmt.Errorf("error executing documents SQL: %w", err)
	}

	exist, err := checkFunctions(db, DocumentsFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL documents functions loaded successfully")
	return nil
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	if err := LoadMetadataSql(db, force); err != nil {
		return err
	}

	if err := LoadMappingsSql(db, force); err != nil {
		return err
	}

	if err := LoadOperationLogSql(db, force); err != nil {
		return err
	}

	if err := LoadDocumentsSql(db, force); err != nil {
		return err
	}

	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}

package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks a migrated database against what the lecture
// repository expects. Used at startup and in tests.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and stops at the first failure.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"lectures":          "Lecture records",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies the lectures columns and their declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	lectureColumns := map[string]string{
		"id":            "INTEGER",
		"code":          "TEXT",
		"instructor_id": "TEXT",
		"active":        "INTEGER",
		"created_at":    "DATETIME",
		"updated_at":    "DATETIME",
	}

	if err := v.validateColumns("lectures", lectureColumns); err != nil {
		return fmt.Errorf("lectures table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_lectures_active_code":  "One live lecture per code",
		"idx_lectures_code_created": "Latest lecture by code",
		"idx_lectures_instructor":   "Lectures by instructor",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints proves inside a rolled back transaction that two
// active lectures cannot share a code while an ended one can.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin constraint check: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const probe = "__schema_probe__"
	insert := "INSERT INTO lectures (code, instructor_id, active) VALUES (?, 'probe', ?)"

	if _, err := tx.Exec(insert, probe, 0); err != nil {
		return fmt.Errorf("failed to insert ended probe lecture: %w", err)
	}
	if _, err := tx.Exec(insert, probe, 1); err != nil {
		return fmt.Errorf("failed to insert active probe lecture: %w", err)
	}
	if _, err := tx.Exec(insert, probe, 1); err == nil {
		return fmt.Errorf("unique constraint not enforced: active lecture code")
	}
	if _, err := tx.Exec(insert, probe+"2", 2); err == nil {
		return fmt.Errorf("check constraint not enforced: lectures.active")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			name       string
			columnType string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultVal, &primaryKey); err != nil {
			return err
		}
		found[name] = strings.ToUpper(columnType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expected := range expectedColumns {
		actual, ok := found[column]
		if !ok {
			return fmt.Errorf("missing column %s", column)
		}
		if actual != expected {
			return fmt.Errorf("column %s has type %s, expected %s", column, actual, expected)
		}
	}
	return nil
}

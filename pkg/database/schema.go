package database

import (
	"database/sql"
	"fmt"
)

// RequiredTables lists the tables the service reads or writes.
var RequiredTables = []string{
	"users",
	"classes",
	"enrollments",
	"sessions",
	"eeg_samples",
	"session_metrics",
	"student_metrics",
	"schema_migrations",
}

// RequiredIndexes back the hot queries: samples by session, roster by class.
var RequiredIndexes = []string{
	"idx_eeg_samples_session_time",
	"idx_eeg_samples_session_student",
	"idx_sessions_teacher",
	"idx_enrollments_student",
}

// SchemaValidator checks a migrated SQLite database.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator inspects db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateSampleColumns()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range RequiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range RequiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateSampleColumns checks eeg_samples carries every band with a numeric type.
func (v *SchemaValidator) ValidateSampleColumns() error {
	expected := map[string]string{
		"session_id":     "TEXT",
		"student_id":     "TEXT",
		"timestamp":      "DATETIME",
		"attention":      "REAL",
		"relaxation":     "REAL",
		"delta":          "REAL",
		"theta":          "REAL",
		"alpha":          "REAL",
		"beta":           "REAL",
		"gamma":          "REAL",
		"signal_quality": "REAL",
	}

	rows, err := v.db.Query("PRAGMA table_info(eeg_samples)")
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, typ := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("eeg_samples column %s not found", col)
		}
		if got != typ {
			return fmt.Errorf("eeg_samples column %s has type %s, expected %s", col, got, typ)
		}
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

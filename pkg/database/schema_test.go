package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail on empty database")
	}
}

func TestSchemaValidator_AfterMigrations(t *testing.T) {
	db := openTestDB(t)

	if err := NewMigrationManager(db).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Fatalf("Schema validation failed after migrations: %v", err)
	}
}

func TestSchemaValidator_WrongSampleColumnType(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`CREATE TABLE eeg_samples (
		session_id TEXT, student_id TEXT, timestamp DATETIME,
		attention TEXT, relaxation REAL, delta REAL, theta REAL,
		alpha REAL, beta REAL, gamma REAL, signal_quality REAL)`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if err := NewSchemaValidator(db).ValidateSampleColumns(); err == nil {
		t.Error("expected type mismatch on attention column")
	}
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db)

	for i := 0; i < 2; i++ {
		if err := manager.ApplyMigrations(); err != nil {
			t.Fatalf("Run %d: failed to apply migrations: %v", i+1, err)
		}
	}

	migrations, err := manager.LoadMigrations()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count applied migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), count)
	}
}

func TestMigrationManager_LoadMigrationsOrder(t *testing.T) {
	source := fstest.MapFS{
		"m/010_later.sql":  {Data: []byte("CREATE TABLE later (id TEXT);")},
		"m/002_second.sql": {Data: []byte("CREATE TABLE second (id TEXT);")},
		"m/001_first.sql":  {Data: []byte("CREATE TABLE first (id TEXT);")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	manager := NewMigrationManagerFS(nil, source, "m")

	migrations, err := manager.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations failed: %v", err)
	}
	want := []string{"001", "002", "010"}
	if len(migrations) != len(want) {
		t.Fatalf("Expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("Migration %d: expected version %s, got %s", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Description != "first" {
		t.Errorf("Expected description 'first', got %q", migrations[0].Description)
	}
}

func TestMigrationManager_FailedMigrationNotRecorded(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/001_ok.sql":     {Data: []byte("CREATE TABLE ok (id TEXT);")},
		"m/002_broken.sql": {Data: []byte("CREATE TABLE ;")},
	}
	manager := NewMigrationManagerFS(db, source, "m")

	if err := manager.ApplyMigrations(); err == nil {
		t.Fatal("expected broken migration to fail")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = '002'").Scan(&count); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if count != 0 {
		t.Error("failed migration must not be recorded")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.DatabasePath = "" }, true},
		{"postgres without url", func(c *Config) { c.Driver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Driver = DriverPostgres
			c.DatabaseURL = "postgres://localhost/mindlink"
		}, false},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"negative retry", func(c *Config) { c.RetryDelay = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

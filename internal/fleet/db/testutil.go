package db

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	// Shared cache mode so every connection sees the same database
	db, err := sql.Open("sqlite3", "file::memory:?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	db.SetMaxOpenConns(1)

	store := NewStoreFromDB(db)
	if err := store.(*SQLStore).Setup(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db, store
}

// SeedTestServer creates a server record for tests
func SeedTestServer(t *testing.T, store Store, params CreateServerParams) Server {
	t.Helper()

	server, err := store.CreateServer(context.Background(), params)
	if err != nil {
		t.Fatalf("failed to seed test server: %v", err)
	}

	return server
}

// SeedTestAccessKey creates an access key record for tests
func SeedTestAccessKey(t *testing.T, store Store, params CreateAccessKeyParams) AccessKey {
	t.Helper()

	key, err := store.CreateAccessKey(context.Background(), params)
	if err != nil {
		t.Fatalf("failed to seed test access key: %v", err)
	}

	return key
}

// SeedTestDynamicKey creates a dynamic key record for tests
func SeedTestDynamicKey(t *testing.T, store Store, params CreateDynamicKeyParams) DynamicKey {
	t.Helper()

	dak, err := store.CreateDynamicKey(context.Background(), params)
	if err != nil {
		t.Fatalf("failed to seed test dynamic key: %v", err)
	}

	return dak
}

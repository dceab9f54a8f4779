package main

import (
	"strings"
	"testing"
)

func TestMigrationsDeclareHistorySequence(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/001_ledger.up.sql")
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}
	if !strings.Contains(string(sql), "seq           BIGSERIAL") {
		t.Error("transaction_history has no seq BIGSERIAL column")
	}
}

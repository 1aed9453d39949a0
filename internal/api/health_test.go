package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"hedgeengine/internal/database"
	"hedgeengine/internal/ledger"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "test.db"), Profile: database.ProfileStandard})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return ledger.New(db)
}

// TestHealthHandlerOKWithNoCredentials checks that an engine with no
// broker credentials configured yet still reports healthy - "not
// configured" is a valid state, not a degraded one.
func TestHealthHandlerOKWithNoCredentials(t *testing.T) {
	led := newTestLedger(t)
	handler := HealthHandler(&Dependencies{Ledger: led})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
}

// TestHealthHandlerDegradedOnClosedDatabase checks that a closed
// database connection is surfaced as a 503 degraded response rather
// than a handler panic or silent 200.
func TestHealthHandlerDegradedOnClosedDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New(database.Config{Path: filepath.Join(dir, "test.db"), Profile: database.ProfileStandard})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	led := ledger.New(db)
	_ = db.Close()

	handler := HealthHandler(&Dependencies{Ledger: led})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for a closed database", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status field = %q, want degraded", resp.Status)
	}
}

package persistence

import (
	"testing"
	"testing/fstest"
)

func TestPendingMigrationsSkipsAppliedAndOrders(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_audit_index.sql":       {Data: []byte("CREATE INDEX x ON integration_audit (platform);")},
		"0001_integration_audit.sql": {Data: []byte("CREATE TABLE integration_audit (id UUID);")},
		"0003_audit_retention.sql":   {Data: []byte("ALTER TABLE integration_audit ADD COLUMN ttl INT;")},
		"README.md":                  {Data: []byte("notes")},
		"archive/0000_old.sql":       {Data: []byte("SELECT 1;")},
	}

	pending, err := pendingMigrations(fsys, map[string]bool{"0001_integration_audit": true})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].version != "0002_audit_index" || pending[1].version != "0003_audit_retention" {
		t.Errorf("order = %s, %s", pending[0].version, pending[1].version)
	}
}

func TestPendingMigrationsRejectsEmptyFile(t *testing.T) {
	fsys := fstest.MapFS{"0001_integration_audit.sql": {Data: []byte("  \n")}}
	if _, err := pendingMigrations(fsys, nil); err == nil {
		t.Fatal("expected error for empty migration")
	}
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/membank/membank/internal/models"
)

func TestMigrateFreshDatabase(t *testing.T) {
	db := setupTestDB(t)

	version, err := NewMigrator(db, nil).Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != LatestVersion() {
		t.Fatalf("fresh db at version %d, want %d", version, LatestVersion())
	}

	// Re-running is a no-op.
	applied, err := NewMigrator(db, nil).Migrate(true)
	if err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if applied != 0 {
		t.Fatalf("re-migrate applied %d steps, want 0", applied)
	}
}

func TestMigrateBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	proj := newTestProject(t, db)
	ms := NewMemoryStore(db)
	mem := newTestMemory(proj.ID, "survives restore", models.StateConfirmed)
	if err := ms.Insert(mem); err != nil {
		t.Fatalf("insert: %v", err)
	}

	backup, err := NewMigrator(db, nil).Backup()
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	// Mutate after the backup, then restore and verify the mutation is gone.
	if err := ms.Delete(mem.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	db.Close()

	restored, err := RestoreLatestBackup(dbPath)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != backup {
		t.Errorf("restored from %s, want %s", restored, backup)
	}

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	got, err := NewMemoryStore(db2).GetByID(mem.ID)
	if err != nil {
		t.Fatalf("memory not restored: %v", err)
	}
	if got.Content != "survives restore" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestBackupPruning(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// Seed more backups than the retention limit with distinct stamps.
	for i := 0; i < maxBackups+3; i++ {
		name := dbPath + ".backup-20240101_00000" + string(rune('0'+i))
		if err := os.WriteFile(name, []byte("backup"), 0o644); err != nil {
			t.Fatalf("seed backup: %v", err)
		}
	}

	removed, err := NewMigrator(db, nil).cleanupBackups()
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed %d backups, want 3", removed)
	}

	backups, err := ListBackups(dbPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != maxBackups {
		t.Fatalf("%d backups kept, want %d", len(backups), maxBackups)
	}
	// Newest first: the highest stamp survives.
	want := dbPath + ".backup-20240101_000007"
	if backups[0] != want {
		t.Errorf("newest backup = %s, want %s", backups[0], want)
	}
}

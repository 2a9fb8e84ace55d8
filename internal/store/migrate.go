package store

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/membank/membank/internal/memerr"
)

// maxBackups bounds pre-migration backup retention.
const maxBackups = 5

// Migration is one schema/data transform between successive versions.
// Up runs inside a write transaction together with the version bump;
// Verify, when requested, runs inside the same transaction so a failed
// check rolls the step back and leaves the data at the last verified
// version.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *sql.Tx) error
	Verify  func(q queryer) error
}

// Migrator applies the ordered migration sequence with optional
// verification and file-level backup/rollback.
type Migrator struct {
	db     *DB
	logger *slog.Logger
}

func NewMigrator(db *DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// Version returns the persisted schema version, creating the marker
// table on first use.
func (m *Migrator) Version() (int, error) {
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return 0, fmt.Errorf("ensure schema_version table: %w", err)
	}

	var v sql.NullInt64
	err = m.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// LatestVersion is the highest version the migration sequence reaches.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// Migrate applies every pending transform in order and returns the
// number applied. With verify set, each transform's consistency check
// runs before its commit; a failed check rolls that step back and aborts
// the remaining sequence with ErrMigrationVerification.
func (m *Migrator) Migrate(verify bool) (int, error) {
	current, err := m.Version()
	if err != nil {
		return 0, err
	}

	if current >= LatestVersion() {
		return 0, nil
	}

	// Upgrading an existing database: snapshot it first so the run can
	// be rolled back wholesale.
	if current > 0 {
		backup, err := m.Backup()
		if err != nil {
			return 0, fmt.Errorf("pre-migration backup: %w", err)
		}
		m.logger.Info("created pre-migration backup", "path", backup)
		if n, err := m.cleanupBackups(); err == nil && n > 0 {
			m.logger.Info("removed old backups", "count", n)
		}
	}

	applied := 0
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		err := m.db.WriteTx(func(tx *sql.Tx) error {
			if err := mig.Up(tx); err != nil {
				return fmt.Errorf("migration v%d (%s): %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(
				"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
				mig.Version, time.Now().Unix(),
			); err != nil {
				return fmt.Errorf("record version v%d: %w", mig.Version, err)
			}
			if verify && mig.Verify != nil {
				if err := mig.Verify(tx); err != nil {
					return fmt.Errorf("%w: v%d (%s): %v",
						memerr.ErrMigrationVerification, mig.Version, mig.Name, err)
				}
			}
			return nil
		})
		if err != nil {
			return applied, err
		}

		applied++
		m.logger.Info("applied migration", "version", mig.Version, "name", mig.Name)
	}

	return applied, nil
}

// Backup checkpoints the WAL and copies the database file next to
// itself, returning the backup path.
func (m *Migrator) Backup() (string, error) {
	if _, err := m.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint wal: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")
	dst := fmt.Sprintf("%s.backup-%s", m.db.Path, stamp)
	if err := copyFile(m.db.Path, dst); err != nil {
		return "", fmt.Errorf("copy database: %w", err)
	}
	return dst, nil
}

// ListBackups returns backup paths, newest first.
func ListBackups(dbPath string) ([]string, error) {
	matches, err := filepath.Glob(dbPath + ".backup-*")
	if err != nil {
		return nil, err
	}
	// Timestamps in the suffix sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// RestoreLatestBackup reverts the most recent migration run by copying
// the newest backup over the database file. The store must not be open.
func RestoreLatestBackup(dbPath string) (string, error) {
	backups, err := ListBackups(dbPath)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("%w: no migration backups for %s", memerr.ErrNotFound, dbPath)
	}

	// Drop stale WAL/SHM sidecars so the restored file is authoritative.
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")

	if err := copyFile(backups[0], dbPath); err != nil {
		return "", fmt.Errorf("restore backup: %w", err)
	}
	return backups[0], nil
}

func (m *Migrator) cleanupBackups() (int, error) {
	backups, err := ListBackups(m.db.Path)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, b := range backups {
		if i < maxBackups {
			continue
		}
		if err := os.Remove(b); err == nil {
			removed++
		}
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

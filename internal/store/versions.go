package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

const versionColumns = `id, memory_id, revision, content, category, state, stale, stale_reason, created_at`

// VersionStore handles the append-only memory_versions history.
type VersionStore struct {
	db *DB
}

func NewVersionStore(db *DB) *VersionStore {
	return &VersionStore{db: db}
}

// Append records a snapshot. The (memory_id, revision) pair is unique;
// re-appending the same revision is rejected by the schema.
func (s *VersionStore) Append(v *models.MemoryVersion) error {
	return s.append(s.db, v)
}

// AppendTx is Append inside an open transaction.
func (s *VersionStore) AppendTx(tx *sql.Tx, v *models.MemoryVersion) error {
	return s.append(tx, v)
}

func (s *VersionStore) append(e execer, v *models.MemoryVersion) error {
	if v.CreatedAt == 0 {
		v.CreatedAt = time.Now().Unix()
	}
	_, err := e.Exec(`
		INSERT INTO memory_versions (memory_id, revision, content, category, state, stale, stale_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.MemoryID, v.Revision, v.Content, string(v.Category), string(v.State), v.Stale, nullString(v.StaleReason), v.CreatedAt)
	if err != nil {
		return mapBusy(fmt.Errorf("append memory version: %w", err))
	}
	return nil
}

// ListByMemory returns a memory's history ordered by revision ascending.
func (s *VersionStore) ListByMemory(memoryID string) ([]*models.MemoryVersion, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM memory_versions WHERE memory_id = ? ORDER BY revision ASC
	`, versionColumns), memoryID)
	if err != nil {
		return nil, fmt.Errorf("list memory versions: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetByRevision fetches one snapshot.
func (s *VersionStore) GetByRevision(memoryID string, revision int64) (*models.MemoryVersion, error) {
	v, err := scanVersion(s.db.QueryRow(fmt.Sprintf(`
		SELECT %s FROM memory_versions WHERE memory_id = ? AND revision = ?
	`, versionColumns), memoryID, revision))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: version %d of memory %s", memerr.ErrNotFound, revision, memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory version: %w", err)
	}
	return v, nil
}

func scanVersion(row rowScanner) (*models.MemoryVersion, error) {
	var v models.MemoryVersion
	var staleReason sql.NullString
	var category, state string
	err := row.Scan(&v.ID, &v.MemoryID, &v.Revision, &v.Content, &category, &state, &v.Stale, &staleReason, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Category = models.Category(category)
	v.State = models.State(state)
	if staleReason.Valid {
		v.StaleReason = staleReason.String
	}
	return &v, nil
}

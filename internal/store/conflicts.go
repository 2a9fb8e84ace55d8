package store

import (
	"fmt"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

const conflictColumns = `id, project_id, memory_id, local_checksum, remote_checksum,
	local_revision, remote_revision, local_updated_at, remote_updated_at, resolution, detected_at`

// ConflictStore logs sync conflicts and their resolutions.
type ConflictStore struct {
	db *DB
}

func NewConflictStore(db *DB) *ConflictStore {
	return &ConflictStore{db: db}
}

func (s *ConflictStore) Insert(c *models.SyncConflict) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_conflicts (
			id, project_id, memory_id, local_checksum, remote_checksum,
			local_revision, remote_revision, local_updated_at, remote_updated_at,
			resolution, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ProjectID, c.MemoryID, c.LocalChecksum, c.RemoteChecksum,
		c.LocalRevision, c.RemoteRevision, c.LocalUpdatedAt, c.RemoteUpdatedAt,
		string(c.Resolution), c.DetectedAt,
	)
	if err != nil {
		return mapBusy(fmt.Errorf("insert sync conflict: %w", err))
	}
	return nil
}

// ListUnresolved returns a project's open conflicts, newest first.
func (s *ConflictStore) ListUnresolved(projectID string) ([]*models.SyncConflict, error) {
	return s.list(projectID, true)
}

// List returns the full conflict history for a project.
func (s *ConflictStore) List(projectID string) ([]*models.SyncConflict, error) {
	return s.list(projectID, false)
}

func (s *ConflictStore) list(projectID string, unresolvedOnly bool) ([]*models.SyncConflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_conflicts WHERE project_id = ?`, conflictColumns)
	if unresolvedOnly {
		query += " AND resolution = 'unresolved'"
	}
	query += " ORDER BY detected_at DESC"

	rows, err := s.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sync conflicts: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncConflict
	for rows.Next() {
		var c models.SyncConflict
		var resolution string
		err := rows.Scan(
			&c.ID, &c.ProjectID, &c.MemoryID, &c.LocalChecksum, &c.RemoteChecksum,
			&c.LocalRevision, &c.RemoteRevision, &c.LocalUpdatedAt, &c.RemoteUpdatedAt,
			&resolution, &c.DetectedAt,
		)
		if err != nil {
			return nil, err
		}
		c.Resolution = models.Resolution(resolution)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// HasUnresolved reports whether this exact divergence is already open.
func (s *ConflictStore) HasUnresolved(memoryID, localChecksum, remoteChecksum string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sync_conflicts
		WHERE memory_id = ? AND local_checksum = ? AND remote_checksum = ? AND resolution = 'unresolved'
	`, memoryID, localChecksum, remoteChecksum).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check open sync conflict: %w", err)
	}
	return n > 0, nil
}

// CountByMemory returns how many conflicts have ever touched a memory.
// Feeds the conflict component of the confidence score.
func (s *ConflictStore) CountByMemory(memoryID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sync_conflicts WHERE memory_id = ?", memoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sync conflicts: %w", err)
	}
	return n, nil
}

// Resolve records the outcome of a forced push or pull.
func (s *ConflictStore) Resolve(id string, resolution models.Resolution) error {
	res, err := s.db.Exec(
		"UPDATE sync_conflicts SET resolution = ? WHERE id = ?", string(resolution), id)
	if err != nil {
		return mapBusy(fmt.Errorf("resolve sync conflict: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: conflict %s", memerr.ErrNotFound, id)
	}
	return nil
}

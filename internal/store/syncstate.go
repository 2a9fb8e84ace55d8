package store

import (
	"database/sql"
	"fmt"
)

// SyncStateStore tracks, per memory, the revision last pushed to the
// shared location. status() diffs local revisions against this snapshot.
type SyncStateStore struct {
	db *DB
}

func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// RecordPushTx upserts the pushed revision for one memory.
func (s *SyncStateStore) RecordPushTx(tx *sql.Tx, projectID, memoryID string, revision, pushedAt int64) error {
	_, err := tx.Exec(`
		INSERT INTO sync_state (project_id, memory_id, pushed_revision, pushed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, memory_id)
		DO UPDATE SET pushed_revision = excluded.pushed_revision, pushed_at = excluded.pushed_at
	`, projectID, memoryID, revision, pushedAt)
	if err != nil {
		return mapBusy(fmt.Errorf("record pushed revision: %w", err))
	}
	return nil
}

// PushedRevisions returns memory id → last pushed revision.
func (s *SyncStateStore) PushedRevisions(projectID string) (map[string]int64, error) {
	rows, err := s.db.Query(
		"SELECT memory_id, pushed_revision FROM sync_state WHERE project_id = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var rev int64
		if err := rows.Scan(&id, &rev); err != nil {
			return nil, err
		}
		out[id] = rev
	}
	return out, rows.Err()
}

// LastPushedAt returns the most recent push timestamp, or nil before the
// first push.
func (s *SyncStateStore) LastPushedAt(projectID string) (*int64, error) {
	var t sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(pushed_at) FROM sync_state WHERE project_id = ?", projectID).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("read last push time: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	v := t.Int64
	return &v, nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

const consolidationColumns = `id, project_id, merged_id, source_ids, similarity, created_at, rolled_back_at`

// ConsolidationStore handles consolidation audit records.
type ConsolidationStore struct {
	db *DB
}

func NewConsolidationStore(db *DB) *ConsolidationStore {
	return &ConsolidationStore{db: db}
}

// InsertTx writes a record inside the consolidation transaction.
func (s *ConsolidationStore) InsertTx(tx *sql.Tx, r *models.ConsolidationRecord) error {
	sourceIDs, err := json.Marshal(r.SourceIDs)
	if err != nil {
		return fmt.Errorf("marshal source ids: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO consolidation_records (id, project_id, merged_id, source_ids, similarity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.MergedID, string(sourceIDs), r.Similarity, r.CreatedAt)
	if err != nil {
		return mapBusy(fmt.Errorf("insert consolidation record: %w", err))
	}
	return nil
}

// GetByMergedID finds the record that produced a merged memory.
func (s *ConsolidationStore) GetByMergedID(mergedID string) (*models.ConsolidationRecord, error) {
	r, err := scanConsolidation(s.db.QueryRow(fmt.Sprintf(`
		SELECT %s FROM consolidation_records WHERE merged_id = ? ORDER BY created_at DESC LIMIT 1
	`, consolidationColumns), mergedID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no consolidation record for memory %s", memerr.ErrNotFound, mergedID)
	}
	if err != nil {
		return nil, fmt.Errorf("get consolidation record: %w", err)
	}
	return r, nil
}

// MarkRolledBackTx consumes a record; rollback is single-use.
func (s *ConsolidationStore) MarkRolledBackTx(tx *sql.Tx, id string) error {
	res, err := tx.Exec(`
		UPDATE consolidation_records SET rolled_back_at = ? WHERE id = ? AND rolled_back_at IS NULL
	`, time.Now().Unix(), id)
	if err != nil {
		return mapBusy(fmt.Errorf("mark consolidation rolled back: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: record %s", memerr.ErrAlreadyRolledBack, id)
	}
	return nil
}

// List returns a project's consolidation history, newest first.
func (s *ConsolidationStore) List(projectID string) ([]*models.ConsolidationRecord, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM consolidation_records WHERE project_id = ? ORDER BY created_at DESC
	`, consolidationColumns), projectID)
	if err != nil {
		return nil, fmt.Errorf("list consolidation records: %w", err)
	}
	defer rows.Close()

	var out []*models.ConsolidationRecord
	for rows.Next() {
		r, err := scanConsolidation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanConsolidation(row rowScanner) (*models.ConsolidationRecord, error) {
	var r models.ConsolidationRecord
	var sourceIDs string
	var rolledBack sql.NullInt64
	err := row.Scan(&r.ID, &r.ProjectID, &r.MergedID, &sourceIDs, &r.Similarity, &r.CreatedAt, &rolledBack)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sourceIDs), &r.SourceIDs); err != nil {
		return nil, fmt.Errorf("unmarshal source ids: %w", err)
	}
	if rolledBack.Valid {
		v := rolledBack.Int64
		r.RolledBackAt = &v
	}
	return &r, nil
}

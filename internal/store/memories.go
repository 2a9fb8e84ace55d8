package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanMemory.
const memoryColumns = `id, project_id, content, category, source, state,
	stale, stale_reason, revision, access_count,
	created_at, updated_at, last_accessed_at, confidence`

// MemoryStore handles memory rows in the record store.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a new memory. The caller sets all fields including ID.
func (s *MemoryStore) Insert(m *models.Memory) error {
	return s.insert(s.db, m)
}

// InsertTx is Insert inside an open transaction.
func (s *MemoryStore) InsertTx(tx *sql.Tx, m *models.Memory) error {
	return s.insert(tx, m)
}

func (s *MemoryStore) insert(e execer, m *models.Memory) error {
	_, err := e.Exec(`
		INSERT INTO memories (
			id, project_id, content, category, source, state,
			stale, stale_reason, revision, access_count,
			created_at, updated_at, last_accessed_at, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ProjectID, m.Content, string(m.Category), string(m.Source), string(m.State),
		m.Stale, nullString(m.StaleReason), m.Revision, m.AccessCount,
		m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.Confidence,
	)
	if err != nil {
		return mapBusy(fmt.Errorf("insert memory: %w", err))
	}
	return nil
}

// Save writes back every mutable field of m.
func (s *MemoryStore) Save(m *models.Memory) error {
	return s.save(s.db, m)
}

// SaveTx is Save inside an open transaction.
func (s *MemoryStore) SaveTx(tx *sql.Tx, m *models.Memory) error {
	return s.save(tx, m)
}

func (s *MemoryStore) save(e execer, m *models.Memory) error {
	res, err := e.Exec(`
		UPDATE memories SET
			content = ?, category = ?, source = ?, state = ?,
			stale = ?, stale_reason = ?, revision = ?, access_count = ?,
			updated_at = ?, last_accessed_at = ?, confidence = ?
		WHERE id = ?
	`,
		m.Content, string(m.Category), string(m.Source), string(m.State),
		m.Stale, nullString(m.StaleReason), m.Revision, m.AccessCount,
		m.UpdatedAt, m.LastAccessedAt, m.Confidence,
		m.ID,
	)
	if err != nil {
		return mapBusy(fmt.Errorf("save memory: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: memory %s", memerr.ErrNotFound, m.ID)
	}
	return nil
}

// GetByID fetches a single memory, or ErrNotFound.
func (s *MemoryStore) GetByID(id string) (*models.Memory, error) {
	m, err := scanMemory(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: memory %s", memerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetByIDs fetches memories by id, skipping ids with no row. Retrieval
// uses this for hydration; index entries without a row are stale.
func (s *MemoryStore) GetByIDs(ids []string) (map[string]*models.Memory, error) {
	if len(ids) == 0 {
		return map[string]*models.Memory{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM memories WHERE id IN (%s)`,
		memoryColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	States   []models.State
	Category models.Category
	Stale    *bool
	Limit    int
	Offset   int
}

// List returns a project's memories newest-first.
func (s *MemoryStore) List(projectID string, f ListFilter) ([]*models.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE project_id = ?`, memoryColumns)
	args := []any{projectID}

	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			ph[i] = "?"
			args = append(args, string(st))
		}
		query += fmt.Sprintf(" AND state IN (%s)", strings.Join(ph, ","))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.Stale != nil {
		query += " AND stale = ?"
		args = append(args, *f.Stale)
	}

	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListConfirmedActive returns confirmed, non-archived memories in
// ascending creation order: the exact set and order rebuild re-indexes.
func (s *MemoryStore) ListConfirmedActive(projectID string) ([]*models.Memory, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE project_id = ? AND state = 'confirmed'
		ORDER BY created_at ASC, id ASC
	`, memoryColumns), projectID)
	if err != nil {
		return nil, fmt.Errorf("list confirmed memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListForSync returns everything a sync export carries: confirmed and
// archived memories, oldest first for a stable export order.
func (s *MemoryStore) ListForSync(projectID string) ([]*models.Memory, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE project_id = ? AND state IN ('confirmed', 'archived')
		ORDER BY created_at ASC, id ASC
	`, memoryColumns), projectID)
	if err != nil {
		return nil, fmt.Errorf("list memories for sync: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Delete removes a memory row and its owned versions and git links.
func (s *MemoryStore) Delete(id string) error {
	return s.db.WriteTx(func(tx *sql.Tx) error {
		return s.DeleteTx(tx, id)
	})
}

// DeleteTx is Delete inside an open transaction.
func (s *MemoryStore) DeleteTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec("DELETE FROM memory_versions WHERE memory_id = ?", id); err != nil {
		return fmt.Errorf("delete memory versions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM git_links WHERE memory_id = ?", id); err != nil {
		return fmt.Errorf("delete git links: %w", err)
	}
	res, err := tx.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: memory %s", memerr.ErrNotFound, id)
	}
	return nil
}

// Touch bumps access bookkeeping and stores the recomputed confidence.
// Called on every retrieval hit, never on listing.
func (s *MemoryStore) Touch(id string, confidence float64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?, confidence = ?
		WHERE id = ?
	`, now, confidence, id)
	return mapBusy(err)
}

// Stats counts a project's memories by lifecycle position.
func (s *MemoryStore) Stats(projectID string) (*models.ProjectStats, error) {
	stats := &models.ProjectStats{ProjectID: projectID}
	err := s.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN state = 'confirmed' THEN 1 END),
			COUNT(CASE WHEN state = 'unconfirmed' THEN 1 END),
			COUNT(CASE WHEN state = 'confirmed' AND stale = 1 THEN 1 END),
			COUNT(CASE WHEN state = 'archived' THEN 1 END)
		FROM memories WHERE project_id = ?
	`, projectID).Scan(&stats.Confirmed, &stats.Pending, &stats.Stale, &stats.Archived)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var staleReason sql.NullString
	var lastAccessed sql.NullInt64
	var category, source, state string

	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Content, &category, &source, &state,
		&m.Stale, &staleReason, &m.Revision, &m.AccessCount,
		&m.CreatedAt, &m.UpdatedAt, &lastAccessed, &m.Confidence,
	)
	if err != nil {
		return nil, err
	}

	m.Category = models.Category(category)
	m.Source = models.Source(source)
	m.State = models.State(state)
	if staleReason.Valid {
		m.StaleReason = staleReason.String
	}
	if lastAccessed.Valid {
		v := lastAccessed.Int64
		m.LastAccessedAt = &v
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

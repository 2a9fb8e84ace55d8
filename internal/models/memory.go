package models

// MaxContentLength bounds memory content in bytes.
const MaxContentLength = 10240

// Memory is the core domain entity, owned by the SQLite record store.
// The vector index only ever holds a memory's id and embedding and is
// fully reconstructible from rows of this shape.
type Memory struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"projectId"`
	Content        string   `json:"content"`
	Category       Category `json:"category"`
	Source         Source   `json:"source"`
	State          State    `json:"state"`
	Stale          bool     `json:"stale"`
	StaleReason    string   `json:"staleReason,omitempty"`
	Revision       int64    `json:"revision"`
	Confidence     float64  `json:"confidence"`
	AccessCount    int64    `json:"accessCount"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	LastAccessedAt *int64   `json:"lastAccessedAt,omitempty"`
}

// Confirmed reports whether the memory has been promoted past the
// provisional state. Archived memories were confirmed once; they stay
// out of retrieval but their confirmation history is not erased.
func (m *Memory) Confirmed() bool {
	return m.State == StateConfirmed || m.State == StateArchived
}

// Searchable reports whether retrieval may return this memory.
func (m *Memory) Searchable() bool {
	return m.State == StateConfirmed && !m.Stale
}

// CanConfirm guards the Unconfirmed → Confirmed transition.
func (m *Memory) CanConfirm() bool {
	return m.State == StateUnconfirmed
}

// CanUpdate guards content updates: only live confirmed memories change.
func (m *Memory) CanUpdate() bool {
	return m.State == StateConfirmed
}

// CanMarkStale guards the staleness flag. Staleness on an unconfirmed or
// archived memory is an illegal combination.
func (m *Memory) CanMarkStale() bool {
	return m.State == StateConfirmed
}

// CanArchive guards consolidation archival.
func (m *Memory) CanArchive() bool {
	return m.State == StateConfirmed
}

// MemoryVersion is an immutable snapshot of a memory's mutable fields
// taken before a content-changing mutation. Append-only, ordered by
// revision.
type MemoryVersion struct {
	ID          int64    `json:"id"`
	MemoryID    string   `json:"memoryId"`
	Revision    int64    `json:"revision"`
	Content     string   `json:"content"`
	Category    Category `json:"category"`
	State       State    `json:"state"`
	Stale       bool     `json:"stale"`
	StaleReason string   `json:"staleReason,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
}

// Snapshot captures the current state of m as a version row.
func (m *Memory) Snapshot() *MemoryVersion {
	return &MemoryVersion{
		MemoryID:    m.ID,
		Revision:    m.Revision,
		Content:     m.Content,
		Category:    m.Category,
		State:       m.State,
		Stale:       m.Stale,
		StaleReason: m.StaleReason,
	}
}

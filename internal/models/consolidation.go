package models

// ConsolidationRecord links archived source memories to the merged memory
// that replaced them. Source and merged ids are weak references: deleting
// a memory later does not erase the record, which stays as an audit trail.
type ConsolidationRecord struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"projectId"`
	MergedID     string   `json:"mergedId"`
	SourceIDs    []string `json:"sourceIds"`
	Similarity   float64  `json:"similarity"`
	CreatedAt    int64    `json:"createdAt"`
	RolledBackAt *int64   `json:"rolledBackAt,omitempty"`
}

// RolledBack reports whether the record was already consumed by a rollback.
func (r *ConsolidationRecord) RolledBack() bool {
	return r.RolledBackAt != nil
}

// ConsolidationSuggestion is a candidate pair for merging, advisory only.
type ConsolidationSuggestion struct {
	A          *Memory `json:"a"`
	B          *Memory `json:"b"`
	Similarity float64 `json:"similarity"`
}

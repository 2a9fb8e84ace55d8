package models

// SyncConflict records a divergence between a local and a remote revision
// of the same memory id. Detection is advisory: nothing is merged
// automatically, the operator forces a side or leaves it unresolved.
type SyncConflict struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"projectId"`
	MemoryID        string     `json:"memoryId"`
	LocalChecksum   string     `json:"localChecksum"`
	RemoteChecksum  string     `json:"remoteChecksum"`
	LocalRevision   int64      `json:"localRevision"`
	RemoteRevision  int64      `json:"remoteRevision"`
	LocalUpdatedAt  int64      `json:"localUpdatedAt"`
	RemoteUpdatedAt int64      `json:"remoteUpdatedAt"`
	Resolution      Resolution `json:"resolution"`
	DetectedAt      int64      `json:"detectedAt"`
}

// SyncStatus reports pending local changes and unresolved conflicts.
type SyncStatus struct {
	ProjectID       string   `json:"projectId"`
	PendingMemories []string `json:"pendingMemories"`
	Unresolved      int      `json:"unresolved"`
	RemoteExists    bool     `json:"remoteExists"`
	LastPushedAt    *int64   `json:"lastPushedAt,omitempty"`
}

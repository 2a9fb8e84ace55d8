package models

// GitLink associates a memory with a commit. Commit ids are opaque
// strings; membank never interprets them.
type GitLink struct {
	ID        int64  `json:"id"`
	MemoryID  string `json:"memoryId"`
	CommitSHA string `json:"commitSha"`
	CreatedAt int64  `json:"createdAt"`
}

package models

// Project is the isolation boundary: every memory, index collection, and
// sync export belongs to exactly one project. The embedding provider and
// vector dimension are fixed at creation; changing the provider requires
// a full index rebuild.
type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	RootPath          string `json:"rootPath"`
	EmbeddingProvider string `json:"embeddingProvider"`
	EmbeddingModel    string `json:"embeddingModel"`
	EmbeddingDim      int    `json:"embeddingDim"`
	CreatedAt         int64  `json:"createdAt"`
}

// ProjectStats summarizes a project's memory population.
type ProjectStats struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	Confirmed   int    `json:"confirmed"`
	Pending     int    `json:"pending"`
	Stale       int    `json:"stale"`
	Archived    int    `json:"archived"`
}

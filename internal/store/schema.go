package store

import (
	"database/sql"
	"fmt"
)

// migrations is the ordered schema history. Every Up is idempotent-safe
// to re-run against a database already at its target shape.
var migrations = []Migration{
	{Version: 1, Name: "core tables", Up: upCoreTables, Verify: verifyCoreTables},
	{Version: 2, Name: "sync tables", Up: upSyncTables, Verify: verifySyncTables},
	{Version: 3, Name: "git links, embedding cache, confidence", Up: upLinksAndCache, Verify: verifyLinksAndCache},
}

func upCoreTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			root_path TEXT NOT NULL,
			embedding_provider TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			embedding_dim INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			source TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'unconfirmed',
			stale INTEGER NOT NULL DEFAULT 0,
			stale_reason TEXT,
			revision INTEGER NOT NULL DEFAULT 1,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_accessed_at INTEGER,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_state ON memories(project_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			state TEXT NOT NULL,
			stale INTEGER NOT NULL DEFAULT 0,
			stale_reason TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE (memory_id, revision)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_versions_memory ON memory_versions(memory_id, revision)`,
		`CREATE TABLE IF NOT EXISTS consolidation_records (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			merged_id TEXT NOT NULL,
			source_ids TEXT NOT NULL,
			similarity REAL NOT NULL,
			created_at INTEGER NOT NULL,
			rolled_back_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consolidations_merged ON consolidation_records(merged_id)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create core tables: %w", err)
		}
	}
	return nil
}

func verifyCoreTables(q queryer) error {
	for _, table := range []string{"projects", "memories", "memory_versions", "consolidation_records"} {
		ok, err := tableExists(q, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %s missing", table)
		}
	}

	// Referential integrity: every memory must belong to a project.
	var orphans int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM memories m
		LEFT JOIN projects p ON p.id = m.project_id
		WHERE p.id IS NULL
	`).Scan(&orphans)
	if err != nil {
		return fmt.Errorf("check memory ownership: %w", err)
	}
	if orphans > 0 {
		return fmt.Errorf("%d memories reference missing projects", orphans)
	}
	return nil
}

func upSyncTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_conflicts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			local_checksum TEXT NOT NULL,
			remote_checksum TEXT NOT NULL,
			local_revision INTEGER NOT NULL,
			remote_revision INTEGER NOT NULL,
			local_updated_at INTEGER NOT NULL,
			remote_updated_at INTEGER NOT NULL,
			resolution TEXT NOT NULL DEFAULT 'unresolved',
			detected_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_conflicts_project ON sync_conflicts(project_id, resolution)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			project_id TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			pushed_revision INTEGER NOT NULL,
			pushed_at INTEGER NOT NULL,
			PRIMARY KEY (project_id, memory_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create sync tables: %w", err)
		}
	}
	return nil
}

func verifySyncTables(q queryer) error {
	for _, table := range []string{"sync_conflicts", "sync_state"} {
		ok, err := tableExists(q, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %s missing", table)
		}
	}
	return nil
}

func upLinksAndCache(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS git_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (memory_id, commit_sha)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_git_links_commit ON git_links(commit_sha)`,
		`CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			model TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("create link/cache tables: %w", err)
		}
	}

	// Confidence arrived after the core schema; guard the ALTER so the
	// step stays re-runnable.
	hasConfidence, err := columnExists(tx, "memories", "confidence")
	if err != nil {
		return fmt.Errorf("check confidence column: %w", err)
	}
	if !hasConfidence {
		if _, err := tx.Exec(
			`ALTER TABLE memories ADD COLUMN confidence REAL NOT NULL DEFAULT 0.5`,
		); err != nil {
			return fmt.Errorf("add confidence column: %w", err)
		}
	}
	return nil
}

func verifyLinksAndCache(q queryer) error {
	for _, table := range []string{"git_links", "embedding_cache"} {
		ok, err := tableExists(q, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %s missing", table)
		}
	}
	ok, err := columnExists(q, "memories", "confidence")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memories.confidence column missing")
	}
	return nil
}

package sync

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

const documentVersion = 1

// document is the plaintext export: every confirmed and archived memory
// of one project, each with a content checksum for conflict detection.
type document struct {
	FormatVersion int     `json:"format_version"`
	ProjectID     string  `json:"project_id"`
	ProjectName   string  `json:"project_name"`
	ExportedAt    int64   `json:"exported_at"`
	Memories      []entry `json:"memories"`
}

type entry struct {
	Memory   *models.Memory `json:"memory"`
	Checksum string         `json:"checksum"`
}

// PushResult summarizes one push.
type PushResult struct {
	Pushed    int `json:"pushed"`
	Conflicts int `json:"conflicts"`
}

// PullResult summarizes one pull.
type PullResult struct {
	Imported  int `json:"imported"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// Engine pushes and pulls the encrypted per-project document. Conflict
// rule, identical on both sides: two revisions of the same memory
// conflict when their checksums differ and the incoming revision is not
// strictly greater than the one it would replace. Nothing is merged
// automatically; --force picks a side and the loss is logged.
type Engine struct {
	db        *store.DB
	memories  *store.MemoryStore
	versions  *store.VersionStore
	conflicts *store.ConflictStore
	syncState *store.SyncStateStore
	scorer    *lifecycle.ConfidenceScorer
	embedder  embedding.Embedder
	index     vectorindex.Index
	remote    Remote
	key       string
	logger    *slog.Logger
}

func NewEngine(
	db *store.DB,
	memories *store.MemoryStore,
	versions *store.VersionStore,
	conflicts *store.ConflictStore,
	syncState *store.SyncStateStore,
	scorer *lifecycle.ConfidenceScorer,
	embedder embedding.Embedder,
	index vectorindex.Index,
	remote Remote,
	key string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		db:        db,
		memories:  memories,
		versions:  versions,
		conflicts: conflicts,
		syncState: syncState,
		scorer:    scorer,
		embedder:  embedder,
		index:     index,
		remote:    remote,
		key:       key,
		logger:    logger,
	}
}

// Push exports the project's confirmed and archived memories. Entries
// present only on the remote are preserved so pushing never erases a
// teammate's new memories. With conflicts and force unset, nothing is
// written and the conflicts are recorded for `sync status`.
func (e *Engine) Push(ctx context.Context, project *models.Project, force bool) (*PushResult, error) {
	local, err := e.memories.ListForSync(project.ID)
	if err != nil {
		return nil, err
	}

	remoteDoc, err := e.readRemote(project)
	if err != nil && !errors.Is(err, memerr.ErrNotFound) {
		return nil, err
	}
	remoteByID := make(map[string]entry)
	if remoteDoc != nil {
		for _, en := range remoteDoc.Memories {
			remoteByID[en.Memory.ID] = en
		}
	}

	var conflicted []*models.SyncConflict
	for _, mem := range local {
		re, ok := remoteByID[mem.ID]
		if !ok {
			continue
		}
		localSum := Checksum(mem.Content)
		if localSum == re.Checksum {
			continue
		}
		if mem.Revision > re.Memory.Revision {
			continue // fast-forward, remote accepts it
		}
		conflicted = append(conflicted, e.newConflict(project, mem, re))
	}

	if len(conflicted) > 0 && !force {
		for _, c := range conflicted {
			if err := e.recordUnresolved(c); err != nil {
				return nil, err
			}
		}
		return &PushResult{Conflicts: len(conflicted)},
			fmt.Errorf("%w: %d memories diverged from the remote (inspect `membank sync status`, then push --force to overwrite)",
				memerr.ErrConflict, len(conflicted))
	}
	for _, c := range conflicted {
		if err := e.recordResolution(c, models.ResolutionLocalWon); err != nil {
			return nil, err
		}
		e.logger.Warn("forced push overwrote remote revision",
			"memory", c.MemoryID, "local_revision", c.LocalRevision, "remote_revision", c.RemoteRevision)
	}

	out := document{
		FormatVersion: documentVersion,
		ProjectID:     project.ID,
		ProjectName:   project.Name,
		ExportedAt:    time.Now().Unix(),
	}
	localIDs := make(map[string]bool, len(local))
	for _, mem := range local {
		localIDs[mem.ID] = true
		out.Memories = append(out.Memories, entry{Memory: mem, Checksum: Checksum(mem.Content)})
	}
	if remoteDoc != nil {
		for _, en := range remoteDoc.Memories {
			if !localIDs[en.Memory.ID] {
				out.Memories = append(out.Memories, en)
			}
		}
	}

	plaintext, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal sync document: %w", err)
	}
	sealed, err := Seal(e.key, plaintext)
	if err != nil {
		return nil, err
	}
	if err := e.remote.Write(DocumentName(project.ID), sealed); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	err = e.db.WriteTx(func(tx *sql.Tx) error {
		for _, mem := range local {
			if err := e.syncState.RecordPushTx(tx, project.ID, mem.ID, mem.Revision, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("pushed sync document",
		"project", project.ID, "memories", len(local), "forced_over", len(conflicted))
	return &PushResult{Pushed: len(local), Conflicts: len(conflicted)}, nil
}

// Pull imports the remote document. New memories are inserted verbatim
// and indexed; known memories are fast-forwarded when the remote
// revision is strictly newer. Entries whose content matches but whose
// stale or state flags changed apply as updates regardless of revision.
// A content divergence is recorded as a conflict and skipped unless
// force makes the remote win.
func (e *Engine) Pull(ctx context.Context, project *models.Project, force bool) (*PullResult, error) {
	doc, err := e.readRemote(project)
	if err != nil {
		return nil, err
	}
	if doc.ProjectID != project.ID {
		return nil, fmt.Errorf("%w: document belongs to project %s", memerr.ErrValidation, doc.ProjectID)
	}

	res := &PullResult{}
	var toIndex []*models.Memory
	var toUnindex []string
	var inserts, updates []*models.Memory
	var snapshots []*models.MemoryVersion

	for _, en := range doc.Memories {
		incoming := en.Memory
		if Checksum(incoming.Content) != en.Checksum {
			return nil, fmt.Errorf("remote entry %s failed checksum verification", incoming.ID)
		}

		existing, err := e.memories.GetByID(incoming.ID)
		switch {
		case errors.Is(err, memerr.ErrNotFound):
			incoming.ProjectID = project.ID
			incoming.Confidence = e.scorer.Score(incoming)
			inserts = append(inserts, incoming)
			if incoming.State == models.StateConfirmed {
				toIndex = append(toIndex, incoming)
			}
			res.Imported++
			continue
		case err != nil:
			return nil, err
		}

		contentDiffers := Checksum(existing.Content) != en.Checksum
		if !contentDiffers && existing.State == incoming.State && existing.Stale == incoming.Stale {
			res.Skipped++
			continue
		}

		// Only content divergence with a non-monotonic revision is a
		// conflict. Flag or state changes on identical content (a teammate
		// marking a memory stale, say) apply as ordinary updates.
		diverged := contentDiffers && incoming.Revision <= existing.Revision
		if diverged {
			c := e.newConflict(project, existing, en)
			if !force {
				if err := e.recordUnresolved(c); err != nil {
					return nil, err
				}
				res.Conflicts++
				continue
			}
			if err := e.recordResolution(c, models.ResolutionRemoteWon); err != nil {
				return nil, err
			}
			e.logger.Warn("forced pull overwrote local revision",
				"memory", existing.ID, "local_revision", existing.Revision, "remote_revision", incoming.Revision)
		}

		if contentDiffers {
			snapshots = append(snapshots, existing.Snapshot())
		}
		merged := *existing
		merged.Content = incoming.Content
		merged.Category = incoming.Category
		merged.State = incoming.State
		merged.Stale = incoming.Stale
		merged.StaleReason = incoming.StaleReason
		merged.Revision = incoming.Revision
		if merged.Revision < existing.Revision {
			merged.Revision = existing.Revision
		}
		if diverged {
			merged.Revision = existing.Revision + 1
		}
		merged.UpdatedAt = time.Now().Unix()
		merged.Confidence = e.scorer.Score(&merged)
		updates = append(updates, &merged)

		switch {
		case merged.State != models.StateConfirmed:
			toUnindex = append(toUnindex, merged.ID)
		case contentDiffers || existing.State != models.StateConfirmed:
			toIndex = append(toIndex, &merged)
		}
		res.Updated++
	}

	// Index before committing rows, matching the confirm path: a memory
	// never becomes searchable in the store without its vector in place.
	collection := vectorindex.CollectionName(project.ID)
	if len(toIndex) > 0 {
		if err := e.index.EnsureCollection(ctx, collection, project.EmbeddingDim); err != nil {
			return nil, err
		}
		points := make([]vectorindex.Point, 0, len(toIndex))
		for _, mem := range toIndex {
			vec, err := e.embedder.Embed(ctx, mem.Content)
			if err != nil {
				return nil, fmt.Errorf("embed pulled memory %s: %w", mem.ID, err)
			}
			if len(vec) != project.EmbeddingDim {
				return nil, fmt.Errorf("%w: embedding has %d dimensions, project records %d",
					memerr.ErrDimensionMismatch, len(vec), project.EmbeddingDim)
			}
			points = append(points, vectorindex.Point{ID: mem.ID, Vector: vec})
		}
		if err := e.index.Upsert(ctx, collection, points); err != nil {
			return nil, err
		}
	}

	err = e.db.WriteTx(func(tx *sql.Tx) error {
		for _, snap := range snapshots {
			if err := e.versions.AppendTx(tx, snap); err != nil {
				return err
			}
		}
		for _, mem := range inserts {
			if err := e.memories.InsertTx(tx, mem); err != nil {
				return err
			}
		}
		for _, mem := range updates {
			if err := e.memories.SaveTx(tx, mem); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(toUnindex) > 0 {
		if err := e.index.Delete(ctx, collection, toUnindex); err != nil {
			e.logger.Warn("failed to drop archived vectors after pull; rebuild will repair", "error", err)
		}
	}

	e.logger.Info("pulled sync document", "project", project.ID,
		"imported", res.Imported, "updated", res.Updated, "conflicts", res.Conflicts)
	return res, nil
}

// Status reports what a push would send and what pulls have left open.
func (e *Engine) Status(project *models.Project) (*models.SyncStatus, error) {
	status := &models.SyncStatus{ProjectID: project.ID, PendingMemories: []string{}}

	exists, err := e.remote.Exists(DocumentName(project.ID))
	if err != nil {
		return nil, err
	}
	status.RemoteExists = exists

	pushed, err := e.syncState.PushedRevisions(project.ID)
	if err != nil {
		return nil, err
	}
	local, err := e.memories.ListForSync(project.ID)
	if err != nil {
		return nil, err
	}
	for _, mem := range local {
		if rev, ok := pushed[mem.ID]; !ok || mem.Revision > rev {
			status.PendingMemories = append(status.PendingMemories, mem.ID)
		}
	}

	unresolved, err := e.conflicts.ListUnresolved(project.ID)
	if err != nil {
		return nil, err
	}
	status.Unresolved = len(unresolved)

	status.LastPushedAt, err = e.syncState.LastPushedAt(project.ID)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Conflicts lists a project's unresolved conflicts.
func (e *Engine) Conflicts(project *models.Project) ([]*models.SyncConflict, error) {
	return e.conflicts.ListUnresolved(project.ID)
}

// ConflictHistory lists every conflict ever recorded for a project,
// resolved ones included.
func (e *Engine) ConflictHistory(project *models.Project) ([]*models.SyncConflict, error) {
	return e.conflicts.List(project.ID)
}

// recordUnresolved logs a divergence once: a repeat of the same local
// and remote checksums collapses into the already open row.
func (e *Engine) recordUnresolved(c *models.SyncConflict) error {
	open, err := e.conflicts.HasUnresolved(c.MemoryID, c.LocalChecksum, c.RemoteChecksum)
	if err != nil {
		return err
	}
	if open {
		return nil
	}
	return e.conflicts.Insert(c)
}

// recordResolution closes any open conflicts for the memory and records
// which side won.
func (e *Engine) recordResolution(c *models.SyncConflict, resolution models.Resolution) error {
	open, err := e.conflicts.ListUnresolved(c.ProjectID)
	if err != nil {
		return err
	}
	for _, prior := range open {
		if prior.MemoryID != c.MemoryID {
			continue
		}
		if err := e.conflicts.Resolve(prior.ID, resolution); err != nil {
			return err
		}
	}
	c.Resolution = resolution
	return e.conflicts.Insert(c)
}

func (e *Engine) readRemote(project *models.Project) (*document, error) {
	sealed, err := e.remote.Read(DocumentName(project.ID))
	if err != nil {
		return nil, err
	}
	plaintext, err := Open(e.key, sealed)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("parse sync document: %w", err)
	}
	if doc.FormatVersion != documentVersion {
		return nil, fmt.Errorf("%w: unsupported document version %d", memerr.ErrValidation, doc.FormatVersion)
	}
	return &doc, nil
}

func (e *Engine) newConflict(project *models.Project, local *models.Memory, remote entry) *models.SyncConflict {
	return &models.SyncConflict{
		ID:              uuid.New().String(),
		ProjectID:       project.ID,
		MemoryID:        local.ID,
		LocalChecksum:   Checksum(local.Content),
		RemoteChecksum:  remote.Checksum,
		LocalRevision:   local.Revision,
		RemoteRevision:  remote.Memory.Revision,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remote.Memory.UpdatedAt,
		Resolution:      models.ResolutionUnresolved,
		DetectedAt:      time.Now().Unix(),
	}
}

// Checksum is the content fingerprint used for conflict detection.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

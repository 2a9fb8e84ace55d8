package lifecycle

import (
	"time"

	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
)

// Confidence component weights. Confirmation dominates, then recency,
// then usage, with sync conflicts applying a small penalty.
const (
	weightConfirmed = 0.4
	weightRecency   = 0.3
	weightUsage     = 0.2
	weightConflict  = 0.1

	recencyWindow   = 90 * 24 * time.Hour
	usageSaturation = 10
	conflictCeiling = 5
)

// ConfidenceScorer derives a 0..1 confidence value from a memory's
// lifecycle signals. The score is advisory: it is recomputed on every
// retrieval touch and never gates an operation.
type ConfidenceScorer struct {
	conflicts *store.ConflictStore
	now       func() time.Time
}

func NewConfidenceScorer(conflicts *store.ConflictStore) *ConfidenceScorer {
	return &ConfidenceScorer{conflicts: conflicts, now: time.Now}
}

// Score computes the weighted confidence for a memory.
func (s *ConfidenceScorer) Score(m *models.Memory) float64 {
	score := weightRecency*s.recency(m) + weightUsage*usage(m)
	if m.Confirmed() {
		score += weightConfirmed
	}
	score += weightConflict * (1 - s.conflictPenalty(m))
	return score
}

// recency decays linearly from 1 at creation to 0 at the window edge.
func (s *ConfidenceScorer) recency(m *models.Memory) float64 {
	age := s.now().Sub(time.Unix(m.UpdatedAt, 0))
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// usage saturates at usageSaturation accesses.
func usage(m *models.Memory) float64 {
	n := m.AccessCount
	if n > usageSaturation {
		n = usageSaturation
	}
	return float64(n) / usageSaturation
}

// conflictPenalty grows with recorded sync conflicts, capped. Count
// failures degrade to zero penalty rather than failing the caller.
func (s *ConfidenceScorer) conflictPenalty(m *models.Memory) float64 {
	if s.conflicts == nil {
		return 0
	}
	n, err := s.conflicts.CountByMemory(m.ID)
	if err != nil {
		return 0
	}
	if n > conflictCeiling {
		n = conflictCeiling
	}
	return float64(n) / conflictCeiling
}

// Package history is a gorm-backed, purely observational record of
// sessions: it is written to on session start/close and read by the
// operator-facing GET /sessions endpoint, but it is never consulted by the
// Session Registry to decide whether a session is live — the in-memory
// registry is the sole source of truth for that.
package history

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mantonx/playserver/internal/play"
)

// Record is one session's history row.
type Record struct {
	ID           string `gorm:"primaryKey"`
	PlayID       string
	SourceIndex  int
	ScratchDir   string
	CopyVideo    bool
	CopyAudio    bool
	VideoCodec   string
	AudioCodec   string
	StartedAt    time.Time
	ClosedAt     *time.Time
	CloseReason  string // free-form; the engine's teardown always records "closed"
}

func (Record) TableName() string { return "play_session_history" }

// Store persists session history. Every method is best-effort from the
// caller's point of view: a failing write here must never block or fail a
// live playback request, so callers should log and ignore errors rather
// than propagate them onto the hot path.
type Store struct {
	db *gorm.DB
}

// New wraps db, auto-migrating the Record table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordStart inserts (or, on a session id replace, updates) a row for a
// newly registered session.
func (s *Store) RecordStart(session *play.Session, playID string) error {
	rec := Record{
		ID:          session.ID,
		PlayID:      playID,
		SourceIndex: session.Capability.SourceIndex,
		ScratchDir:  session.ScratchDir,
		CopyVideo:   session.Decision.CanCopyVideo,
		CopyAudio:   session.Decision.CanCopyAudio,
		VideoCodec:  session.Decision.OutputVideoCodec,
		AudioCodec:  session.Decision.OutputAudioCodec,
		StartedAt:   session.CreatedAt,
	}
	return s.db.Save(&rec).Error
}

// RecordClose stamps the close time and reason for id.
func (s *Store) RecordClose(id string, reason string) error {
	now := time.Now()
	return s.db.Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"closed_at":    &now,
		"close_reason": reason,
	}).Error
}

// ListFilter narrows the rows List returns.
type ListFilter struct {
	ActiveOnly bool
	Limit      int
}

// List returns history rows, most recent first.
func (s *Store) List(filter ListFilter) ([]Record, error) {
	q := s.db.Order("started_at DESC")
	if filter.ActiveOnly {
		q = q.Where("closed_at IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var records []Record
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes closed rows whose close time is before cutoff,
// keeping the history table from growing without bound. It does not touch
// any file on disk — that's the Sweeper's job (cleanup.go).
func (s *Store) PruneOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("closed_at IS NOT NULL AND closed_at < ?", cutoff).Delete(&Record{})
	return res.RowsAffected, res.Error
}

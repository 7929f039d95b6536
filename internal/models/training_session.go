package models

import (
	"database/sql"
	"time"

	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// GenerationStatus is the lifecycle of AI content generation for a training
// session. Transitions only move forward: idle -> pending -> success|error.
type GenerationStatus string

const (
	GenerationIdle    GenerationStatus = "idle"
	GenerationPending GenerationStatus = "pending"
	GenerationSuccess GenerationStatus = "success"
	GenerationError   GenerationStatus = "error"
)

// TrainingSession owns a generation status polled by clients. The status is
// mutated only by the worker executing the generation job, never directly by
// a client request.
type TrainingSession struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	Title            string           `json:"title" db:"title"`
	GenerationStatus GenerationStatus `json:"generation_status" db:"generation_status"`
	GeneratedContent JSONMap          `json:"generated_content,omitempty" db:"generated_content"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

func (TrainingSession) TableName() string {
	tableName := "training_sessions"
	return tableName
}

// CanBeginGeneration reports whether a generation request is admissible for
// the given status. Pending and success are rejected to prevent duplicate
// generation work and duplicate content rows.
func CanBeginGeneration(status GenerationStatus) bool {
	return status == GenerationIdle || status == GenerationError
}

// NewTrainingSession returns a session in the idle generation state.
func NewTrainingSession(userID uuid.UUID, title string) (*TrainingSession, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "error generating unique session id")
	}
	return &TrainingSession{
		ID:               id,
		UserID:           userID,
		Title:            title,
		GenerationStatus: GenerationIdle,
	}, nil
}

// FindTrainingSessionByID looks up a session by its id.
func FindTrainingSessionByID(tx *storage.Connection, id uuid.UUID) (*TrainingSession, error) {
	session := &TrainingSession{}
	if err := tx.Find(session, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, TrainingSessionNotFoundError{}
		}
		return nil, errors.Wrap(err, "error finding training session")
	}
	return session, nil
}

// BeginGeneration moves the session to pending. The status flip happens with
// a guarded UPDATE so two concurrent begin requests cannot both win.
func (s *TrainingSession) BeginGeneration(tx *storage.Connection) error {
	if !CanBeginGeneration(s.GenerationStatus) {
		return GenerationConflictError{Status: s.GenerationStatus}
	}

	count, err := tx.RawQuery(
		"UPDATE "+(&TrainingSession{}).TableName()+
			" SET generation_status = ?, updated_at = now() WHERE id = ? AND generation_status IN (?, ?)",
		GenerationPending, s.ID, GenerationIdle, GenerationError,
	).ExecWithCount()
	if err != nil {
		return errors.Wrap(err, "error updating generation status")
	}
	if count == 0 {
		// raced with another begin request
		return GenerationConflictError{Status: GenerationPending}
	}

	s.GenerationStatus = GenerationPending
	return nil
}

// FinishGeneration records the terminal status of a generation job. Only the
// worker that ran the job calls this.
func (s *TrainingSession) FinishGeneration(tx *storage.Connection, status GenerationStatus) error {
	if status != GenerationSuccess && status != GenerationError {
		return errors.Errorf("invalid terminal generation status %q", status)
	}
	s.GenerationStatus = status
	return tx.UpdateOnly(s, "generation_status")
}

// SaveGeneratedContent persists the output of a generation run.
func (s *TrainingSession) SaveGeneratedContent(tx *storage.Connection, content JSONMap) error {
	s.GeneratedContent = content
	return tx.UpdateOnly(s, "generated_content")
}

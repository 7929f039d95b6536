package models

import "fmt"

// IsNotFoundError returns whether an error represents a "not found" error.
func IsNotFoundError(err error) bool {
	switch err.(type) {
	case ConnectionNotFoundError, *ConnectionNotFoundError:
		return true
	case SnapshotNotFoundError, *SnapshotNotFoundError:
		return true
	case TrainingSessionNotFoundError, *TrainingSessionNotFoundError:
		return true
	}
	return false
}

// ConnectionNotFoundError represents when a provider connection is not found.
type ConnectionNotFoundError struct{}

func (e ConnectionNotFoundError) Error() string {
	return "Connection not found"
}

// SnapshotNotFoundError represents when a scrape snapshot is not found.
type SnapshotNotFoundError struct{}

func (e SnapshotNotFoundError) Error() string {
	return "Scrape snapshot not found"
}

// TrainingSessionNotFoundError represents when a training session is not found.
type TrainingSessionNotFoundError struct{}

func (e TrainingSessionNotFoundError) Error() string {
	return "Training session not found"
}

// AccountConflictError is returned when an external provider account is
// already linked to a different local user.
type AccountConflictError struct {
	Provider string
	Username string
}

func (e AccountConflictError) Error() string {
	return fmt.Sprintf("The %s account %q is already linked to another user", e.Provider, e.Username)
}

// GenerationConflictError is returned when content generation is requested
// for a session that is already pending or has already succeeded.
type GenerationConflictError struct {
	Status GenerationStatus
}

func (e GenerationConflictError) Error() string {
	return fmt.Sprintf("Content generation already %s for this session", e.Status)
}

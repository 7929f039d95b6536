package api

import (
	"net/http"

	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
)

// StartGeneration flips a training session to pending and hands it to the
// background workers. The transition is a guarded update, so two racing
// requests produce exactly one enqueued job.
func (a *API) StartGeneration(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	userID := getUserID(ctx)

	session, err := a.loadSession(r, userID)
	if err != nil {
		return err
	}

	if err := session.BeginGeneration(a.db.WithContext(ctx)); err != nil {
		if _, ok := err.(models.GenerationConflictError); ok {
			return conflictError(ErrorCodeGenerationConflict, "Generation is already running or finished for this session")
		}
		return internalServerError("Error starting generation").WithInternalError(err)
	}

	a.dispatcher.Enqueue(tasks.TaskGenerate, session.ID.String())

	sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":                session.ID,
		"generation_status": session.GenerationStatus,
	})
	return nil
}

// GenerationStatus reports the session's current generation state for
// polling clients.
func (a *API) GenerationStatus(w http.ResponseWriter, r *http.Request) error {
	userID := getUserID(r.Context())

	session, err := a.loadSession(r, userID)
	if err != nil {
		return err
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":                session.ID,
		"generation_status": session.GenerationStatus,
	})
	return nil
}

func (a *API) loadSession(r *http.Request, userID uuid.UUID) (*models.TrainingSession, error) {
	sessionID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		return nil, badRequestError(ErrorCodeValidationFailed, "Session id must be a UUID")
	}

	session, err := models.FindTrainingSessionByID(a.db.WithContext(r.Context()), sessionID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, notFoundError(ErrorCodeSessionNotFound, "Training session not found")
		}
		return nil, internalServerError("Error finding training session").WithInternalError(err)
	}
	if session.UserID != userID {
		return nil, notFoundError(ErrorCodeSessionNotFound, "Training session not found")
	}
	return session, nil
}

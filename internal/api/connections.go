package api

import (
	"net/http"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/observability"
	"github.com/devstreak/sync/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
)

// ListConnections returns all of the user's linked external accounts.
func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	userID := getUserID(ctx)

	conns, err := models.FindConnectionsByUserID(a.db.WithContext(ctx), userID)
	if err != nil {
		return internalServerError("Error listing connections").WithInternalError(err)
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
	})
	return nil
}

// Disconnect unlinks an external account. Revocation against the provider is
// best effort; the local record is removed regardless of the outcome.
func (a *API) Disconnect(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	userID := getUserID(ctx)
	log := observability.GetLogEntry(r)

	connID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		return badRequestError(ErrorCodeValidationFailed, "Connection id must be a UUID")
	}

	db := a.db.WithContext(ctx)
	conn, err := models.FindConnectionByID(db, connID)
	if err != nil {
		if models.IsNotFoundError(err) {
			return notFoundError(ErrorCodeConnectionNotFound, "Connection not found")
		}
		return internalServerError("Error finding connection").WithInternalError(err)
	}
	if conn.UserID != userID {
		return notFoundError(ErrorCodeConnectionNotFound, "Connection not found")
	}

	if p, perr := a.registry.Lookup(conn.Provider); perr == nil {
		provider.RevokeToken(ctx, p, conn.AccessToken)
	} else {
		log.WithField("provider", conn.Provider).Warn("skipping token revocation for unconfigured integration")
	}

	err = db.Transaction(func(tx *storage.Connection) error {
		return models.DeleteConnection(tx, conn)
	})
	if err != nil {
		return internalServerError("Error deleting connection").WithInternalError(err)
	}

	log.WithField("provider", conn.Provider).WithField("connection_id", conn.ID).Info("external account disconnected")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

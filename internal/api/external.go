package api

import (
	"net/http"
	"time"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/crypto"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/observability"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/tasks"
	"github.com/fatih/structs"
	"github.com/gofrs/uuid"
)

const (
	// csrfCookieName holds the CSRF token that must round-trip through the
	// provider inside the state parameter.
	csrfCookieName = "sync_csrf"

	// userCookieName carries the authenticated local user's id, issued by
	// the surrounding product's session layer.
	userCookieName = "sync_user"

	csrfCookieMaxAge = 10 * time.Minute
)

// ExternalProviderRedirect starts the authorization-code flow: mints a CSRF
// token, stashes it in a cookie, and sends the browser to the provider's
// authorize (or app install) page with the encoded state.
func (a *API) ExternalProviderRedirect(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	p := getProvider(ctx)

	userID := currentUserID(r)
	if userID == uuid.Nil {
		return forbiddenError(ErrorCodeValidationFailed, "Authentication required")
	}

	csrfToken := crypto.SecureToken()
	state := &OAuthState{
		CSRFToken: csrfToken,
		Next:      r.URL.Query().Get("next"),
	}
	encodedState, err := state.Encode()
	if err != nil {
		return internalServerError("Error encoding oauth state").WithInternalError(err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   int(csrfCookieMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := p.AuthCodeURL(encodedState)
	if builder, ok := p.(provider.AuthorizeURLBuilder); ok {
		authURL = builder.BuildAuthorizeURL(encodedState)
	}

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// ExternalProviderCallback finishes the flow: validates state and CSRF,
// exchanges the code, fetches the external identity, upserts the connection
// and enqueues the first sync.
func (a *API) ExternalProviderCallback(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	p := getProvider(ctx)
	q := r.URL.Query()
	log := observability.GetLogEntry(r)

	if errDesc := q.Get("error_description"); errDesc != "" {
		return oauthError(q.Get("error"), errDesc)
	}

	userID := currentUserID(r)
	if userID == uuid.Nil {
		return forbiddenError(ErrorCodeValidationFailed, "Authentication required")
	}

	code := q.Get("code")
	if code == "" {
		// App installs call back without a code; the connection was made
		// on a previous code exchange, so just kick off a sync.
		if q.Get("installed") != "" {
			return a.handleInstallCallback(w, r, p, userID)
		}
		return badRequestError(ErrorCodeBadOAuthCallback, "OAuth callback is missing the authorization code")
	}

	state, err := DecodeOAuthState(q.Get("state"))
	if err != nil {
		return forbiddenError(ErrorCodeBadOAuthState, "OAuth state is invalid").WithInternalError(err)
	}
	csrfCookie, err := r.Cookie(csrfCookieName)
	if err != nil || csrfCookie.Value == "" || csrfCookie.Value != state.CSRFToken {
		return forbiddenError(ErrorCodeBadOAuthState, "OAuth state does not match this browser session")
	}

	tok, err := p.GetOAuthToken(ctx, code)
	if err != nil {
		return forbiddenError(ErrorCodeBadOAuthCallback, "Unable to exchange authorization code with %s", p.DisplayName()).WithInternalError(err)
	}

	account, err := p.GetUserData(ctx, tok)
	if err != nil {
		return notFoundError(ErrorCodeBadOAuthCallback, "Unable to fetch account data from %s", p.DisplayName()).WithInternalError(err)
	}
	if account.AccountID == "" && tok.ProviderUID != "" {
		account.AccountID = tok.ProviderUID
	}

	accountData := models.JSONMap(structs.Map(account))

	var conn *models.Connection
	err = a.db.WithContext(ctx).Transaction(func(tx *storage.Connection) error {
		var terr error
		conn, terr = models.UpsertConnection(tx, userID, p.ID(), account.AccountID, account.Username, accountData, &models.ProviderToken{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.ExpiresAt,
		})
		return terr
	})
	if err != nil {
		if conflict, ok := err.(models.AccountConflictError); ok {
			return conflictError(ErrorCodeAccountConflict, "This %s account (%s) is already linked to a different user", p.DisplayName(), conflict.Username)
		}
		return internalServerError("Error persisting connection").WithInternalError(err)
	}

	a.dispatcher.Enqueue(tasks.TaskSync, conn.ID.String())
	log.WithField("provider", p.ID()).WithField("connection_id", conn.ID).Info("external account connected")

	http.Redirect(w, r, a.successURL(p, state.Next), http.StatusFound)
	return nil
}

// handleInstallCallback covers app-install callbacks that carry no
// authorization code. The connection must already exist from the code
// exchange leg of the install flow.
func (a *API) handleInstallCallback(w http.ResponseWriter, r *http.Request, p provider.OAuthProvider, userID uuid.UUID) error {
	conn, err := models.FindConnectionByUserAndProvider(a.db.WithContext(r.Context()), userID, p.ID())
	if err != nil {
		if models.IsNotFoundError(err) {
			return notFoundError(ErrorCodeConnectionNotFound, "No %s connection found for this account", p.DisplayName())
		}
		return internalServerError("Error finding connection").WithInternalError(err)
	}

	a.dispatcher.Enqueue(tasks.TaskSync, conn.ID.String())

	next := ""
	if state, err := DecodeOAuthState(r.URL.Query().Get("state")); err == nil {
		next = state.Next
	}
	http.Redirect(w, r, a.successURL(p, next), http.StatusFound)
	return nil
}

// successURL picks the post-callback landing page: an explicit next target
// from the state, then the provider's post-install page, then the site URL.
func (a *API) successURL(p provider.OAuthProvider, next string) string {
	if next != "" {
		return a.config.API.SiteURL + next
	}
	if installer, ok := p.(interface{ PostInstallURL() string }); ok {
		if u := installer.PostInstallURL(); u != "" {
			return u
		}
	}
	return a.config.API.SiteURL
}

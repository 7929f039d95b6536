package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devstreak/sync/internal/utilities"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const defaultTimeout time.Duration = time.Second * 10

// ExternalAccount is the identity data fetched from a provider's user-info
// endpoint after a successful token exchange.
type ExternalAccount struct {
	AccountID string `structs:"account_id,omitempty"`
	Username  string `structs:"username,omitempty"`
	Name      string `structs:"name,omitempty"`
	AvatarURL string `structs:"avatar_url,omitempty"`
}

// Provider is an external integration source known to the catalog.
type Provider interface {
	// ID is the stable slug derived from the display name.
	ID() string
	DisplayName() string
}

// OAuthProvider is a Provider that participates in the authorization-code
// flow. The default flow lives in oauthBase; providers override the parts
// where they deviate.
type OAuthProvider interface {
	Provider

	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	GetOAuthToken(ctx context.Context, code string) (*Token, error)
	GetUserData(ctx context.Context, tok *Token) (*ExternalAccount, error)
}

// TokenRefresher is implemented by providers that issue refresh tokens.
type TokenRefresher interface {
	RefreshOAuthToken(ctx context.Context, refreshToken string) (*Token, error)
}

// TokenRevoker is implemented by providers with a custom revocation handler
// replacing the default layered strategy. Revoke returns true when the
// provider considers the revocation done.
type TokenRevoker interface {
	RevokeOAuthToken(ctx context.Context, token string) bool
}

// AuthorizeURLBuilder is implemented by providers whose authorize entry
// point is not a plain authorization-code URL, such as app installs.
type AuthorizeURLBuilder interface {
	BuildAuthorizeURL(state string) string
}

// Repo is an external repository summary used by the badge pipeline.
type Repo struct {
	Name      string             `json:"name" mapstructure:"name"`
	Stars     float64            `json:"stars" mapstructure:"stars"`
	Languages map[string]float64 `json:"languages" mapstructure:"languages"`
}

// RepoScraper is implemented by providers whose accounts expose repositories.
type RepoScraper interface {
	FetchRepos(ctx context.Context, accessToken string) ([]Repo, error)
}

// StatsScraper is implemented by providers exposing aggregate account stats.
type StatsScraper interface {
	FetchStats(ctx context.Context, accessToken string) (map[string]interface{}, error)
}

// oauthBase carries the default OAuth2 behavior every provider starts from.
type oauthBase struct {
	*oauth2.Config

	id          string
	displayName string

	apiURL    string
	revokeURL string

	// revokeAlwaysOK marks providers that answer 200 to any revoke call,
	// which forces the JSON+Basic retry to know whether it really worked.
	revokeAlwaysOK bool

	timeout time.Duration
}

func (b *oauthBase) ID() string          { return b.id }
func (b *oauthBase) DisplayName() string { return b.displayName }

func (b *oauthBase) httpClient() *http.Client {
	timeout := b.timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// GetOAuthToken performs the default authorization-code exchange against the
// provider token endpoint and parses the dual-format response.
func (b *oauthBase) GetOAuthToken(ctx context.Context, code string) (*Token, error) {
	return b.requestToken(ctx, tokenRequest{
		GrantType:   "authorization_code",
		Code:        code,
		RedirectURI: b.RedirectURL,
	})
}

// RefreshOAuthToken performs the default refresh-token grant.
func (b *oauthBase) RefreshOAuthToken(ctx context.Context, refreshToken string) (*Token, error) {
	return b.requestToken(ctx, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
}

func makeRequest(ctx context.Context, client *http.Client, accessToken, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer utilities.SafeClose(res.Body)

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return httpError(res.StatusCode, string(body))
	}

	return json.NewDecoder(res.Body).Decode(dst)
}

func httpError(code int, body string) error {
	return errors.New(fmt.Sprintf("Request failed with status %d:\n%s", code, body))
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devstreak/sync/internal/utilities"
	"github.com/sirupsen/logrus"
)

// Token is the ephemeral result of a token endpoint call.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time

	// ProviderUID is set by the few providers that return the external
	// account id alongside the token.
	ProviderUID string
}

type tokenRequest struct {
	GrantType    string
	Code         string
	RefreshToken string
	RedirectURI  string
}

// requestToken performs a form-encoded POST against the provider token
// endpoint and parses whatever came back.
func (b *oauthBase) requestToken(ctx context.Context, treq tokenRequest) (*Token, error) {
	form := url.Values{
		"grant_type":    {treq.GrantType},
		"client_id":     {b.ClientID},
		"client_secret": {b.ClientSecret},
	}
	if treq.Code != "" {
		form.Set("code", treq.Code)
	}
	if treq.RefreshToken != "" {
		form.Set("refresh_token", treq.RefreshToken)
	}
	if treq.RedirectURI != "" {
		form.Set("redirect_uri", treq.RedirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := b.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer utilities.SafeClose(res.Body)

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	token := ParseTokenResponse(b.id, res.StatusCode, body)
	if token == nil {
		return nil, httpError(res.StatusCode, string(body))
	}
	return token, nil
}

// ParseTokenResponse extracts a token from a token endpoint response body.
// Providers disagree on the encoding: most answer JSON, some answer
// form-urlencoded key=value pairs. JSON is attempted first; when it yields
// no access_token the body is re-parsed as form data. Returns nil when no
// access token can be extracted from either representation, or on a non-200
// status.
func ParseTokenResponse(providerID string, status int, body []byte) *Token {
	log := logrus.WithField("provider", providerID)

	if status != http.StatusOK {
		log.WithField("status", status).WithField("body", string(body)).Warn("Token endpoint returned non-200 response")
		return nil
	}

	fields := map[string]string{}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for k, v := range parsed {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
	}

	if fields["access_token"] == "" {
		// not JSON, or JSON without a token: fall back to form encoding
		values, err := url.ParseQuery(string(body))
		if err != nil {
			log.WithError(err).Warn("Token response is neither JSON nor form encoded")
			return nil
		}
		fields = map[string]string{}
		for k := range values {
			fields[k] = values.Get(k)
		}
	}

	if fields["access_token"] == "" {
		log.Warn("Token response carries no access token")
		return nil
	}

	token := &Token{
		AccessToken:  fields["access_token"],
		RefreshToken: fields["refresh_token"],
		ProviderUID:  fields["uid"],
	}
	token.ExpiresAt = parseTokenExpiry(fields)
	return token
}

// parseTokenExpiry prefers an explicit expires_at instant, then derives from
// expires_in seconds, which providers send as a number or a numeric string.
func parseTokenExpiry(fields map[string]string) *time.Time {
	if raw := fields["expires_at"]; raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			at := time.Unix(secs, 0)
			return &at
		}
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			return &at
		}
	}
	if raw := fields["expires_in"]; raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			at := time.Now().Add(time.Duration(secs) * time.Second)
			return &at
		}
	}
	return nil
}

// RevokeToken makes a best effort at invalidating the token upstream. It
// never reports failure to the caller: revocation problems must not block
// local disconnection, so they are logged and swallowed.
//
// Strategy: a provider-specific revoker runs first and wins if it signals
// success. Otherwise the token is POSTed to the revoke endpoint as form
// data; when that returns a non-2xx status, or the provider is known to
// answer 200 unconditionally, a second attempt is made with a JSON body and
// HTTP Basic client credentials.
func RevokeToken(ctx context.Context, p OAuthProvider, token string) {
	log := logrus.WithField("provider", p.ID())

	if revoker, ok := p.(TokenRevoker); ok {
		if revoker.RevokeOAuthToken(ctx, token) {
			return
		}
		log.Warn("Custom token revocation failed, falling back to default strategy")
	}

	base, ok := revocable(p)
	if !ok || base.revokeURL == "" {
		return
	}

	ok, status := base.revokeForm(ctx, token)
	if ok && !base.revokeAlwaysOK {
		return
	}
	if !ok {
		log.WithField("status", status).Warn("Form token revocation rejected, retrying with basic auth")
	}

	if ok, status = base.revokeJSONBasic(ctx, token); !ok {
		log.WithField("status", status).Warn("Token revocation failed; continuing with local disconnect")
	}
}

func revocable(p OAuthProvider) (*oauthBase, bool) {
	type baser interface{ base() *oauthBase }
	if b, ok := p.(baser); ok {
		return b.base(), true
	}
	return nil, false
}

func (b *oauthBase) base() *oauthBase { return b }

func (b *oauthBase) revokeForm(ctx context.Context, token string) (bool, int) {
	form := url.Values{
		"token":         {token},
		"client_id":     {b.ClientID},
		"client_secret": {b.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, 0
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.doRevoke(req)
}

func (b *oauthBase) revokeJSONBasic(ctx context.Context, token string) (bool, int) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return false, 0
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.revokeURL, bytes.NewReader(payload))
	if err != nil {
		return false, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(b.ClientID, b.ClientSecret)
	return b.doRevoke(req)
}

func (b *oauthBase) doRevoke(req *http.Request) (bool, int) {
	res, err := b.httpClient().Do(req)
	if err != nil {
		logrus.WithField("provider", b.id).WithError(err).Warn("Token revocation request failed")
		return false, 0
	}
	defer utilities.SafeClose(res.Body)
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))

	ok := res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices
	return ok, res.StatusCode
}

package provider

import (
	"context"

	"github.com/devstreak/sync/internal/conf"
	"golang.org/x/oauth2"
)

// WakaTime

const defaultWakaTimeBase = "https://wakatime.com"

type wakatimeProvider struct {
	oauthBase
}

type wakatimeUser struct {
	ID          string `json:"id"`
	UserName    string `json:"username"`
	DisplayName string `json:"display_name"`
	Photo       string `json:"photo"`
}

type wakatimeEnvelope struct {
	Data map[string]interface{} `json:"data"`
}

// NewWakatimeProvider creates a WakaTime account provider. WakaTime answers
// 200 to every revoke call regardless of outcome, so the revoke strategy
// always follows up with the authenticated JSON attempt.
func NewWakatimeProvider(ext *conf.OAuthProviderConfiguration, redirectURI string) OAuthProvider {
	host := chooseHost(ext.URL, defaultWakaTimeBase)

	return &wakatimeProvider{
		oauthBase: oauthBase{
			Config: &oauth2.Config{
				ClientID:     ext.ClientID,
				ClientSecret: ext.Secret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  host + "/oauth/authorize",
					TokenURL: host + "/oauth/token",
				},
				RedirectURL: redirectURI,
				Scopes:      []string{"read_summaries", "read_stats"},
			},
			id:             "wakatime",
			displayName:    "WakaTime",
			apiURL:         host + "/api/v1",
			revokeURL:      host + "/oauth/revoke",
			revokeAlwaysOK: true,
		},
	}
}

func (w *wakatimeProvider) GetUserData(ctx context.Context, tok *Token) (*ExternalAccount, error) {
	var res struct {
		Data wakatimeUser `json:"data"`
	}
	if err := makeRequest(ctx, w.httpClient(), tok.AccessToken, w.apiURL+"/users/current", &res); err != nil {
		return nil, err
	}

	name := res.Data.DisplayName
	if name == "" {
		name = res.Data.UserName
	}
	return &ExternalAccount{
		AccountID: res.Data.ID,
		Username:  res.Data.UserName,
		Name:      name,
		AvatarURL: res.Data.Photo,
	}, nil
}

// FetchStats returns the last-7-days coding activity summary.
func (w *wakatimeProvider) FetchStats(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	var res wakatimeEnvelope
	if err := makeRequest(ctx, w.httpClient(), accessToken, w.apiURL+"/users/current/stats/last_7_days", &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

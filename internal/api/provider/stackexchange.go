package provider

import (
	"context"
	"strconv"

	"github.com/devstreak/sync/internal/conf"
	"golang.org/x/oauth2"
)

// StackExchange
//
// The token endpoint answers form-urlencoded key=value pairs, not JSON,
// which is what keeps the fallback branch of ParseTokenResponse honest.

const (
	stackExchangeAuthBase = "https://stackexchange.com"
	stackExchangeAPIBase  = "https://api.stackexchange.com/2.3"
)

type stackexchangeProvider struct {
	oauthBase

	// key is the Stack Apps request key (the AppID override), required on
	// every API call next to the access token.
	key string
}

type stackexchangeUser struct {
	AccountID   int    `json:"account_id"`
	DisplayName string `json:"display_name"`
	Reputation  int    `json:"reputation"`
	ProfileURL  string `json:"link"`
}

type stackexchangeUserResponse struct {
	Items []stackexchangeUser `json:"items"`
}

// NewStackexchangeProvider creates a Stack Exchange account provider.
func NewStackexchangeProvider(ext *conf.OAuthProviderConfiguration, redirectURI string) OAuthProvider {
	return &stackexchangeProvider{
		oauthBase: oauthBase{
			Config: &oauth2.Config{
				ClientID:     ext.ClientID,
				ClientSecret: ext.Secret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  stackExchangeAuthBase + "/oauth",
					TokenURL: stackExchangeAuthBase + "/oauth/access_token",
				},
				RedirectURL: redirectURI,
			},
			id:          "stackexchange",
			displayName: "StackExchange",
			apiURL:      stackExchangeAPIBase,
		},
		key: ext.AppID,
	}
}

func (s *stackexchangeProvider) GetUserData(ctx context.Context, tok *Token) (*ExternalAccount, error) {
	u, err := s.fetchMe(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	return &ExternalAccount{
		AccountID: strconv.Itoa(u.AccountID),
		Username:  u.DisplayName,
		Name:      u.DisplayName,
	}, nil
}

// FetchStats returns the account's aggregate reputation numbers.
func (s *stackexchangeProvider) FetchStats(ctx context.Context, accessToken string) (map[string]interface{}, error) {
	u, err := s.fetchMe(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"reputation":   u.Reputation,
		"display_name": u.DisplayName,
		"profile_url":  u.ProfileURL,
	}, nil
}

func (s *stackexchangeProvider) fetchMe(ctx context.Context, accessToken string) (*stackexchangeUser, error) {
	url := s.apiURL + "/me?site=stackoverflow&access_token=" + accessToken
	if s.key != "" {
		url += "&key=" + s.key
	}

	var res stackexchangeUserResponse
	if err := makeRequest(ctx, s.httpClient(), accessToken, url, &res); err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, httpError(200, "Stack Exchange returned no account for this token")
	}
	return &res.Items[0], nil
}

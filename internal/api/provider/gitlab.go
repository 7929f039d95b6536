package provider

import (
	"context"
	"strconv"

	"github.com/devstreak/sync/internal/conf"
	"golang.org/x/oauth2"
)

// Gitlab

const defaultGitLabBase = "https://gitlab.com"

type gitlabProvider struct {
	oauthBase
}

type gitlabUser struct {
	ID        int    `json:"id"`
	UserName  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type gitlabProject struct {
	Name  string `json:"name"`
	Stars int    `json:"star_count"`
	ID    int    `json:"id"`
}

// NewGitlabProvider creates a GitLab account provider. Self-hosted instances
// work by pointing the URL override at them.
func NewGitlabProvider(ext *conf.OAuthProviderConfiguration, redirectURI string) OAuthProvider {
	host := chooseHost(ext.URL, defaultGitLabBase)

	return &gitlabProvider{
		oauthBase: oauthBase{
			Config: &oauth2.Config{
				ClientID:     ext.ClientID,
				ClientSecret: ext.Secret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  host + "/oauth/authorize",
					TokenURL: host + "/oauth/token",
				},
				RedirectURL: redirectURI,
				Scopes:      []string{"read_user", "read_api"},
			},
			id:          "gitlab",
			displayName: "GitLab",
			apiURL:      host + "/api/v4",
			revokeURL:   host + "/oauth/revoke",
		},
	}
}

func (g *gitlabProvider) GetUserData(ctx context.Context, tok *Token) (*ExternalAccount, error) {
	var u gitlabUser
	if err := makeRequest(ctx, g.httpClient(), tok.AccessToken, g.apiURL+"/user", &u); err != nil {
		return nil, err
	}

	return &ExternalAccount{
		AccountID: strconv.Itoa(u.ID),
		Username:  u.UserName,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
	}, nil
}

func (g *gitlabProvider) FetchRepos(ctx context.Context, accessToken string) ([]Repo, error) {
	var projects []gitlabProject
	if err := makeRequest(ctx, g.httpClient(), accessToken, g.apiURL+"/projects?owned=true&per_page=100", &projects); err != nil {
		return nil, err
	}

	repos := make([]Repo, 0, len(projects))
	for _, p := range projects {
		languages := map[string]float64{}
		langURL := g.apiURL + "/projects/" + strconv.Itoa(p.ID) + "/languages"
		if err := makeRequest(ctx, g.httpClient(), accessToken, langURL, &languages); err != nil {
			return nil, err
		}

		repos = append(repos, Repo{
			Name:      p.Name,
			Stars:     float64(p.Stars),
			Languages: languages,
		})
	}
	return repos, nil
}

package provider

import (
	"context"
	"net/url"
	"strconv"

	"github.com/devstreak/sync/internal/conf"
	"golang.org/x/oauth2"
)

// Github

const (
	defaultGitHubAuthBase = "https://github.com"
	defaultGitHubAPIBase  = "https://api.github.com"
)

type githubProvider struct {
	oauthBase

	// appID is set for GitHub App installs, which call back with
	// installed=1 and no authorization code.
	appID string
}

type githubUser struct {
	ID        int    `json:"id"`
	UserName  string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubRepo struct {
	Name         string `json:"name"`
	Fork         bool   `json:"fork"`
	Stars        int    `json:"stargazers_count"`
	LanguagesURL string `json:"languages_url"`
}

// NewGithubProvider creates a GitHub account provider.
func NewGithubProvider(ext *conf.OAuthProviderConfiguration, redirectURI string) OAuthProvider {
	authBase := chooseHost(ext.URL, defaultGitHubAuthBase)
	apiBase := chooseHost(ext.URL, defaultGitHubAPIBase)

	authorizeURL := authBase + "/login/oauth/authorize"
	if ext.AuthorizeURL != "" {
		authorizeURL = ext.AuthorizeURL
	}

	return &githubProvider{
		oauthBase: oauthBase{
			Config: &oauth2.Config{
				ClientID:     ext.ClientID,
				ClientSecret: ext.Secret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  authorizeURL,
					TokenURL: authBase + "/login/oauth/access_token",
				},
				RedirectURL: redirectURI,
				Scopes:      []string{"read:user", "public_repo"},
			},
			id:          "github",
			displayName: "GitHub",
			apiURL:      apiBase,
		},
		appID: ext.AppID,
	}
}

func (g *githubProvider) GetUserData(ctx context.Context, tok *Token) (*ExternalAccount, error) {
	var u githubUser
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

// FetchRepos lists the account's own repositories with per-language byte
// counts, the input of the badge pipeline.
func (g *githubProvider) FetchRepos(ctx context.Context, accessToken string) ([]Repo, error) {
	var ghRepos []githubRepo
	if err := makeRequest(ctx, g.httpClient(), accessToken, g.apiURL+"/user/repos?per_page=100&type=owner", &ghRepos); err != nil {
		return nil, err
	}

	repos := make([]Repo, 0, len(ghRepos))
	for _, r := range ghRepos {
		if r.Fork {
			continue
		}

		languages := map[string]float64{}
		if r.LanguagesURL != "" {
			if err := makeRequest(ctx, g.httpClient(), accessToken, r.LanguagesURL, &languages); err != nil {
				return nil, err
			}
		}

		repos = append(repos, Repo{
			Name:      r.Name,
			Stars:     float64(r.Stars),
			Languages: languages,
		})
	}
	return repos, nil
}

// BuildAuthorizeURL sends GitHub App configurations through the install flow
// instead of a plain authorization-code URL. GitHub echoes the state back on
// the post-install callback.
func (g *githubProvider) BuildAuthorizeURL(state string) string {
	if g.appID == "" {
		return g.AuthCodeURL(state)
	}
	return g.PostInstallURL() + "?state=" + url.QueryEscape(state)
}

// PostInstallURL is where GitHub App installs land after the provider-side
// install flow finishes.
func (g *githubProvider) PostInstallURL() string {
	if g.appID == "" {
		return ""
	}
	return defaultGitHubAuthBase + "/apps/" + g.appID + "/installations/new"
}

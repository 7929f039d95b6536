package provider

import (
	"context"
	"testing"

	"github.com/devstreak/sync/internal/conf"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"
)

func githubTestProvider(t *testing.T) *githubProvider {
	t.Helper()
	p := NewGithubProvider(&conf.OAuthProviderConfiguration{
		ClientID: "id",
		Secret:   "secret",
	}, "https://localhost/callback")
	return p.(*githubProvider)
}

func TestGithubGetUserData(t *testing.T) {
	defer gock.OffAll()

	gock.New("https://api.github.com").
		Get("/user").
		MatchHeader("Authorization", "Bearer gh_token").
		Reply(200).
		JSON(map[string]interface{}{
			"id":         123,
			"login":      "octocat",
			"name":       "Octo Cat",
			"avatar_url": "https://example.com/avatar",
		})

	p := githubTestProvider(t)
	account, err := p.GetUserData(context.Background(), &Token{AccessToken: "gh_token"})
	require.NoError(t, err)
	require.True(t, gock.IsDone())

	require.Equal(t, "123", account.AccountID)
	require.Equal(t, "octocat", account.Username)
	require.Equal(t, "Octo Cat", account.Name)
}

func TestGithubFetchReposSkipsForks(t *testing.T) {
	defer gock.OffAll()

	gock.New("https://api.github.com").
		Get("/user/repos").
		MatchParam("type", "owner").
		Reply(200).
		JSON([]map[string]interface{}{
			{
				"name":             "dotfiles",
				"fork":             false,
				"stargazers_count": 7,
				"languages_url":    "https://api.github.com/repos/octocat/dotfiles/languages",
			},
			{
				"name":             "somebody-elses-project",
				"fork":             true,
				"stargazers_count": 90000,
				"languages_url":    "https://api.github.com/repos/octocat/somebody-elses-project/languages",
			},
		})

	// only the non-fork's languages endpoint may be hit
	gock.New("https://api.github.com").
		Get("/repos/octocat/dotfiles/languages").
		Reply(200).
		JSON(map[string]interface{}{"Go": 8000, "Shell": 2000})

	p := githubTestProvider(t)
	repos, err := p.FetchRepos(context.Background(), "gh_token")
	require.NoError(t, err)
	require.True(t, gock.IsDone())

	require.Len(t, repos, 1)
	require.Equal(t, "dotfiles", repos[0].Name)
	require.Equal(t, float64(7), repos[0].Stars)
	require.Equal(t, map[string]float64{"Go": 8000, "Shell": 2000}, repos[0].Languages)
}

func TestGithubFetchReposUpstreamError(t *testing.T) {
	defer gock.OffAll()

	gock.New("https://api.github.com").
		Get("/user/repos").
		Reply(502).
		BodyString("bad gateway")

	p := githubTestProvider(t)
	_, err := p.FetchRepos(context.Background(), "gh_token")
	require.Error(t, err)
}

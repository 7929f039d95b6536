package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func revokeTestProvider(revokeURL string, alwaysOK bool) OAuthProvider {
	return &gitlabProvider{
		oauthBase: oauthBase{
			Config: &oauth2.Config{
				ClientID:     "testclientid",
				ClientSecret: "testsecret",
			},
			id:             "gitlab",
			displayName:    "GitLab",
			revokeURL:      revokeURL,
			revokeAlwaysOK: alwaysOK,
		},
	}
}

func TestRevokeTokenFormSuccess(t *testing.T) {
	var formCalls, basicCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			formCalls++
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tok1", r.FormValue("token"))
			assert.Equal(t, "testclientid", r.FormValue("client_id"))
			w.WriteHeader(http.StatusOK)
			return
		}
		basicCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	RevokeToken(context.Background(), revokeTestProvider(server.URL, false), "tok1")

	assert.Equal(t, 1, formCalls)
	assert.Equal(t, 0, basicCalls, "successful form revocation must not retry")
}

func TestRevokeTokenRetriesWithBasicAuth(t *testing.T) {
	var basicCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			basicCalls++
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "testclientid", user)
			assert.Equal(t, "testsecret", pass)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	RevokeToken(context.Background(), revokeTestProvider(server.URL, false), "tok1")

	assert.Equal(t, 1, basicCalls)
}

func TestRevokeTokenAlwaysOKProviderRetriesAnyway(t *testing.T) {
	var formCalls, basicCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/json" {
			basicCalls++
		} else {
			formCalls++
		}
		// answers 200 no matter what, like WakaTime
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	RevokeToken(context.Background(), revokeTestProvider(server.URL, true), "tok1")

	assert.Equal(t, 1, formCalls)
	assert.Equal(t, 1, basicCalls, "always-200 providers must get the authenticated follow-up")
}

func TestRevokeTokenNoRevokeURL(t *testing.T) {
	// nothing to call, must simply return
	RevokeToken(context.Background(), revokeTestProvider("", false), "tok1")
}

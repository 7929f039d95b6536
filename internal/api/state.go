package api

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// OAuthState is the round-tripped `state` query parameter of the external
// OAuth flow: base64 of a small JSON object carrying the CSRF token and an
// optional post-login redirect target.
type OAuthState struct {
	CSRFToken string `json:"c"`
	Next      string `json:"n,omitempty"`
}

// Encode serializes the state for use as a query parameter.
func (s *OAuthState) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "error encoding oauth state")
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeOAuthState parses a state parameter produced by Encode.
func DecodeOAuthState(raw string) (*OAuthState, error) {
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.Wrap(err, "error decoding oauth state")
	}

	state := &OAuthState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, errors.Wrap(err, "error parsing oauth state")
	}
	if state.CSRFToken == "" {
		return nil, errors.New("oauth state carries no csrf token")
	}
	return state, nil
}

package api

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthStateRoundTrip(t *testing.T) {
	in := &OAuthState{CSRFToken: "csrf-token-123", Next: "/dashboard"}

	encoded, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeOAuthState(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestOAuthStateEncodesCompactKeys(t *testing.T) {
	encoded, err := (&OAuthState{CSRFToken: "abc"}).Encode()
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"abc"}`, string(raw))
}

func TestDecodeOAuthStateRejectsGarbage(t *testing.T) {
	_, err := DecodeOAuthState("not-base64!!")
	assert.Error(t, err)

	_, err = DecodeOAuthState(base64.URLEncoding.EncodeToString([]byte("not json")))
	assert.Error(t, err)
}

func TestDecodeOAuthStateRequiresCSRFToken(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(`{"n":"/dashboard"}`))
	_, err := DecodeOAuthState(encoded)
	assert.Error(t, err)
}

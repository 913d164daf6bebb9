package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("secret")

	token, err := signer.CreateToken(Agent{Id: "agent-1", Username: "anna"}, RoleAgent, 0)
	require.NoError(t, err)
	assert.Equal(t, "1", token[len(token)-1:])

	claims, err := signer.ParseToken(token, RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.UserID)
	assert.Equal(t, "anna", claims.Username)
}

func TestSignerRejectsBadTokens(t *testing.T) {
	signer := NewSigner("secret")
	other := NewSigner("other-secret")

	foreign, err := other.CreateToken(Agent{Id: "agent-1"}, RoleAgent, 0)
	require.NoError(t, err)
	_, err = signer.ParseToken(foreign, RoleAgent)
	assert.Error(t, err)

	expired, err := signer.CreateToken(Agent{Id: "agent-1"}, RoleAgent, time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)
	_, err = signer.ParseToken(expired, RoleAgent)
	assert.Error(t, err)

	valid, err := signer.CreateToken(Agent{Id: "agent-1"}, RoleAgent, 0)
	require.NoError(t, err)
	_, err = signer.ParseToken(valid[:len(valid)-1]+"9", RoleAgent)
	assert.Error(t, err)

	_, err = signer.ParseToken("", RoleAgent)
	assert.Error(t, err)
}

package inbound

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	yamlDoc := `
services:
  - name: sms-gateway
    kind: form
    roomType: sms
    username: gateway
    passwordHash: "` + string(hash) + `"
    fromField: From
    bodyField: Body
  - name: webhook
`
	registry, err := ParseRegistry([]byte(yamlDoc))
	require.NoError(t, err)
	return registry
}

func TestParseRegistry(t *testing.T) {
	registry := testRegistry(t)
	assert.Equal(t, 2, registry.Len())

	_, ok := registry.Lookup("sms-gateway")
	assert.True(t, ok)
	_, ok = registry.Lookup("telegram")
	assert.False(t, ok)
}

func TestParseRegistryRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing name": "services:\n  - kind: json\n",
		"unknown kind": "services:\n  - name: x\n    kind: xml\n",
		"missing hash": "services:\n  - name: x\n    username: u\n",
		"duplicate":    "services:\n  - name: x\n  - name: x\n",
		"invalid yaml": "services: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestVerifyAuthorization(t *testing.T) {
	registry := testRegistry(t)
	sms, _ := registry.Lookup("sms-gateway")
	open, _ := registry.Lookup("webhook")

	assert.True(t, sms.VerifyAuthorization(basicAuth("gateway", "s3cret")))
	assert.False(t, sms.VerifyAuthorization(basicAuth("gateway", "wrong")))
	assert.False(t, sms.VerifyAuthorization(basicAuth("other", "s3cret")))
	assert.False(t, sms.VerifyAuthorization("Bearer abc"))
	assert.False(t, sms.VerifyAuthorization("Basic !!!"))
	assert.False(t, sms.VerifyAuthorization(""))

	assert.True(t, open.VerifyAuthorization(""))
}

func TestParseFormPayload(t *testing.T) {
	registry := testRegistry(t)
	sms, _ := registry.Lookup("sms-gateway")

	msg, err := sms.Parse("application/x-www-form-urlencoded; charset=utf-8", []byte("From=%2B4917012&Body=Hallo+Welt"))
	require.NoError(t, err)
	assert.Equal(t, "+4917012", msg.From)
	assert.Equal(t, "Hallo Welt", msg.Body)

	_, err = sms.Parse("application/json", []byte(`{"From":"+49"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = sms.Parse("application/x-www-form-urlencoded", []byte("From=%2B49"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseJSONPayload(t *testing.T) {
	registry := testRegistry(t)
	hook, _ := registry.Lookup("webhook")

	msg, err := hook.Parse("application/json", []byte(`{"from":"anna@example.com","body":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "anna@example.com", msg.From)

	_, err = hook.Parse("application/json", []byte(`{"from":`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = hook.Parse("application/json", []byte(`{"from":42,"body":"hi"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRoomType(t *testing.T) {
	registry := testRegistry(t)
	sms, _ := registry.Lookup("sms-gateway")
	hook, _ := registry.Lookup("webhook")

	assert.Equal(t, "sms", sms.RoomType("anna@example.com"))
	assert.Equal(t, "mail", hook.RoomType("anna@example.com"))
	assert.Equal(t, "sms", hook.RoomType("+4917012"))
	assert.Equal(t, "webhook", hook.Name())
}

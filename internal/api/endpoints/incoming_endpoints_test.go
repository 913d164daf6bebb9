package endpoints

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livechat-backend/internal/api"
	"livechat-backend/internal/dto"
	"livechat-backend/internal/lock"
	"livechat-backend/internal/service/inbound"
	"livechat-backend/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const incomingPrefix = "/api/incoming/v1/incoming/"

type incomingTestEnv struct {
	handler http.Handler
	repo    *store.MemoryRepository
}

func setupIncomingTestHandler(t *testing.T) *incomingTestEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	registry, err := inbound.ParseRegistry([]byte(fmt.Sprintf(`
services:
  - name: sms
    kind: form
    username: gateway
    passwordHash: %q
  - name: mail
    kind: json
    roomType: mail
    fromField: sender
    bodyField: text
`, string(hash))))
	require.NoError(t, err)

	repo := store.NewMemoryRepository()
	router := inbound.NewRouter(repo, lock.NewMemoryLocker(0), nil, zerolog.Nop())

	server, _ := newTestServer(t)
	endpoints := &incomingEndpoints{
		registry:       registry,
		router:         router,
		incomingPrefix: incomingPrefix,
		now:            func() time.Time { return time.UnixMilli(1704110400000) },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(incomingPrefix, server.MakeHTTPHandleFunc(endpoints.Incoming))
	return &incomingTestEnv{handler: mux, repo: repo}
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func postForm(handler http.Handler, target, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIncomingJSONCreatesVisitorAndRoom(t *testing.T) {
	env := setupIncomingTestHandler(t)

	resp := doJSONRequest[dto.IncomingReceivedResponse](t, env.handler, http.MethodPost, incomingPrefix+"mail",
		map[string]string{"sender": "guest@example.com", "text": "hello"}, nil, http.StatusOK)
	assert.Equal(t, int64(1704110400000), resp.Received)

	ctx := context.Background()
	visitor, err := env.repo.GetVisitorByUsername(ctx, "guest@example.com")
	require.NoError(t, err)

	rooms, err := env.repo.ListRoomsByVisitor(ctx, visitor.VisitorID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.True(t, rooms[0].Open)
	assert.Equal(t, "mail", rooms[0].RBInfo["serviceName"])

	// A second message reuses the open room.
	doJSONRequest[dto.IncomingReceivedResponse](t, env.handler, http.MethodPost, incomingPrefix+"mail",
		map[string]string{"sender": "guest@example.com", "text": "again"}, nil, http.StatusOK)

	rooms, err = env.repo.ListRoomsByVisitor(ctx, visitor.VisitorID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	messages, err := env.repo.ListMessages(ctx, rooms[0].RoomID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestIncomingFormWithBasicAuth(t *testing.T) {
	env := setupIncomingTestHandler(t)

	rec := postForm(env.handler, incomingPrefix+"sms", "from=%2B4915100000&body=hi", basicAuth("gateway", "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := env.repo.GetVisitorByUsername(context.Background(), "+4915100000")
	assert.NoError(t, err)
}

func TestIncomingRejections(t *testing.T) {
	env := setupIncomingTestHandler(t)

	tests := []struct {
		name          string
		target        string
		body          string
		authorization string
		status        int
	}{
		{name: "unknown service", target: incomingPrefix + "fax", body: "from=a&body=b", status: http.StatusNotFound},
		{name: "missing credentials", target: incomingPrefix + "sms", body: "from=a&body=b", status: http.StatusUnauthorized},
		{name: "wrong password", target: incomingPrefix + "sms", body: "from=a&body=b", authorization: basicAuth("gateway", "nope"), status: http.StatusUnauthorized},
		{name: "empty body field", target: incomingPrefix + "sms", body: "from=a&body=", authorization: basicAuth("gateway", "s3cret"), status: http.StatusUnauthorized},
		{name: "nested path", target: incomingPrefix + "sms/extra", body: "from=a&body=b", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postForm(env.handler, tt.target, tt.body, tt.authorization)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	_, err := env.repo.GetVisitorByUsername(context.Background(), "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIncomingMethodNotAllowed(t *testing.T) {
	env := setupIncomingTestHandler(t)

	doJSONRequest[api.ApiError](t, env.handler, http.MethodGet, incomingPrefix+"mail", nil, nil, http.StatusMethodNotAllowed)
}

func TestIncomingRejectsOversizedBody(t *testing.T) {
	env := setupIncomingTestHandler(t)

	body := "from=%2B4915100000&body=" + strings.Repeat("x", maxBodyBytes)
	rec := postForm(env.handler, incomingPrefix+"sms", body, basicAuth("gateway", "s3cret"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	_, err := env.repo.GetVisitorByUsername(context.Background(), "+4915100000")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Exactly at the limit is still accepted.
	prefix := "from=%2B4915100000&body="
	body = prefix + strings.Repeat("y", maxBodyBytes-len(prefix))
	rec = postForm(env.handler, incomingPrefix+"sms", body, basicAuth("gateway", "s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

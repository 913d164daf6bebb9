package endpoints

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/middleware"
	"livechat-backend/internal/authz"
	"livechat-backend/internal/dto"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/lock"
	"livechat-backend/internal/model"
	roomservice "livechat-backend/internal/service/room"
	"livechat-backend/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomsPrefix = "/api/agent/v1/rooms/"

type roomTestEnv struct {
	handler http.Handler
	repo    *store.MemoryRepository
	signer  *internaljwt.Signer
}

func setupRoomTestHandler(t *testing.T) *roomTestEnv {
	t.Helper()

	repo := store.NewMemoryRepository()
	server, queueManager := newTestServer(t)
	signer := internaljwt.NewSigner("test-secret")

	service := roomservice.New(roomservice.Dependencies{
		Repo:       repo,
		Locker:     lock.NewMemoryLocker(0),
		Authorizer: authz.NewRoleAuthorizer(repo),
		Dispatcher: queueManager,
		Log:        zerolog.Nop(),
	})
	roomEndpoints := NewRoomEndpoints(service, roomsPrefix)

	mux := http.NewServeMux()
	mux.HandleFunc(roomsPrefix, server.MakeHTTPHandleFunc(roomEndpoints.Rooms, middleware.ValidateAgentJWT(signer)))

	seedRooms(t, repo)
	return &roomTestEnv{handler: mux, repo: repo, signer: signer}
}

func seedRooms(t *testing.T, repo *store.MemoryRepository) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.PutAgent(ctx, model.AgentItem{UserID: "agent-1", Role: model.AgentRoleAgent}))
	require.NoError(t, repo.PutAgent(ctx, model.AgentItem{UserID: "agent-off", Role: model.AgentRoleAgent, Status: model.AgentStatusDisabled}))
	require.NoError(t, repo.PutVisitor(ctx, model.VisitorItem{VisitorID: "v1", Token: "tok-1", Username: "+4915100000"}))

	require.NoError(t, repo.CreateRoom(ctx, model.RoomItem{RoomID: "old", VisitorID: "v1", Open: false, Ts: "2024-01-01T10:00:00Z", MsgCount: 2}))
	require.NoError(t, repo.CreateRoom(ctx, model.RoomItem{RoomID: "new", VisitorID: "v1", Open: true, Ts: "2024-01-02T10:00:00Z", MsgCount: 1}))

	for _, msg := range []model.MessageItem{
		{MessageID: "m1", RoomID: "old", SenderType: model.SenderTypeVisitor, Body: "hi", CreatedAt: "2024-01-01T10:00:01Z"},
		{MessageID: "m2", RoomID: "old", SenderType: model.SenderTypeAgent, Body: "hello", CreatedAt: "2024-01-01T10:00:02Z"},
		{MessageID: "m3", RoomID: "new", SenderType: model.SenderTypeVisitor, Body: "back", CreatedAt: "2024-01-02T10:00:00Z"},
	} {
		require.NoError(t, repo.CreateMessage(ctx, msg))
	}
	require.NoError(t, repo.PutSubscription(ctx, model.SubscriptionItem{RoomID: "old", UserID: "agent-1", Answered: true}))
}

func (e *roomTestEnv) authHeader(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := e.signer.CreateToken(internaljwt.Agent{Id: userID, Username: userID}, internaljwt.RoleAgent, 0)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestFindPreviousRoomEndpoint(t *testing.T) {
	env := setupRoomTestHandler(t)

	resp := doJSONRequest[dto.RoomResponse](t, env.handler, http.MethodGet, roomsPrefix+"new/previous", nil, env.authHeader(t, "agent-1"), http.StatusOK)
	assert.Equal(t, "old", resp.RoomID)
	assert.False(t, resp.Open)

	errResp := doJSONRequest[api.ApiError](t, env.handler, http.MethodGet, roomsPrefix+"old/previous", nil, env.authHeader(t, "agent-1"), http.StatusNotFound)
	assert.NotEmpty(t, errResp.Error)
}

func TestMergeRoomsEndpoint(t *testing.T) {
	env := setupRoomTestHandler(t)
	headers := env.authHeader(t, "agent-1")

	resp := doJSONRequest[dto.MergeRoomsResponse](t, env.handler, http.MethodPost, roomsPrefix+"old/merge",
		dto.MergeRoomsRequest{TargetRoomID: "new"}, headers, http.StatusOK)
	assert.Equal(t, "old", resp.CloseRoomID)
	assert.Equal(t, "new", resp.TargetRoom.RoomID)
	assert.True(t, resp.TargetRoom.Open)
	assert.Equal(t, 2, resp.MovedMessages)
	assert.Equal(t, 3, resp.TargetRoom.MsgCount)
	assert.True(t, resp.Settings.Answered)

	messages, err := env.repo.ListMessages(context.Background(), "new")
	require.NoError(t, err)
	assert.Len(t, messages, 3)

	// The close room is gone, so a replay is a 404 rather than a second merge.
	doJSONRequest[api.ApiError](t, env.handler, http.MethodPost, roomsPrefix+"old/merge",
		dto.MergeRoomsRequest{TargetRoomID: "new"}, headers, http.StatusNotFound)
}

func TestMergeRoomsEndpointErrors(t *testing.T) {
	env := setupRoomTestHandler(t)

	tests := []struct {
		name   string
		user   string
		target string
		status int
	}{
		{name: "merge into itself", user: "agent-1", target: "old", status: http.StatusBadRequest},
		{name: "missing target", user: "agent-1", target: "", status: http.StatusBadRequest},
		{name: "unknown target", user: "agent-1", target: "nope", status: http.StatusNotFound},
		{name: "disabled agent", user: "agent-off", target: "new", status: http.StatusForbidden},
		{name: "unknown agent", user: "stranger", target: "new", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSONRequest[api.ApiError](t, env.handler, http.MethodPost, roomsPrefix+"old/merge",
				dto.MergeRoomsRequest{TargetRoomID: tt.target}, env.authHeader(t, tt.user), tt.status)
			assert.NotEmpty(t, resp.Error)
		})
	}

	room, err := env.repo.GetRoom(context.Background(), "old")
	require.NoError(t, err, "failed merges must leave the close room untouched")
	assert.Equal(t, 2, room.MsgCount)
}

func TestRoomEndpointsRouting(t *testing.T) {
	env := setupRoomTestHandler(t)
	headers := env.authHeader(t, "agent-1")

	doJSONRequest[api.ApiError](t, env.handler, http.MethodGet, roomsPrefix+"old/merge", nil, headers, http.StatusMethodNotAllowed)
	doJSONRequest[api.ApiError](t, env.handler, http.MethodGet, roomsPrefix+"old/unknown", nil, headers, http.StatusNotFound)
	doJSONRequest[api.ApiError](t, env.handler, http.MethodGet, roomsPrefix+"old", nil, headers, http.StatusNotFound)
}

func TestRoomEndpointsRequireToken(t *testing.T) {
	env := setupRoomTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, roomsPrefix+"new/previous", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, roomsPrefix+"new/previous", nil)
	req.Header.Set("Authorization", "Bearer not-a-token1")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

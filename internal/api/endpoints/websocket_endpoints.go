package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"livechat-backend/internal/authz"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/websocket"
)

type WebsocketEndpoints interface {
	RoomEvents(http.ResponseWriter, *http.Request) error
}

type websocketEndpoints struct {
	handler     *websocket.Handler
	signer      *internaljwt.Signer
	authorizer  authz.Authorizer
	roomsPrefix string
}

func NewWebsocketEndpoints(handler *websocket.Handler, signer *internaljwt.Signer, authorizer authz.Authorizer, roomsPrefix string) WebsocketEndpoints {
	return &websocketEndpoints{
		handler:     handler,
		signer:      signer,
		authorizer:  authorizer,
		roomsPrefix: roomsPrefix,
	}
}

// RoomEvents streams a room's events to an agent. Browsers cannot set
// headers on websocket requests, so the token travels in the query.
func (h *websocketEndpoints) RoomEvents(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return MethodHandler(w, r, nil)
	}

	segments, err := pathSegments(r.URL.Path, h.roomsPrefix)
	if err != nil {
		return err
	}
	if len(segments) != 1 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Room not found",
			ErrorLog:   fmt.Errorf("websocket room id missing in %s", r.URL.Path),
		}
	}
	roomID := segments[0]

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	claims, err := h.signer.ParseToken(token, internaljwt.RoleAgent)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("websocket token: %w", err),
		}
	}

	allowed, err := h.authorizer.HasPermission(r.Context(), claims.UserID, authz.PermViewLivechatRoom)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("websocket permission check: %w", err),
		}
	}
	if !allowed {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Not allowed to view this room",
			ErrorLog:   fmt.Errorf("user %s lacks %s", claims.UserID, authz.PermViewLivechatRoom),
		}
	}

	return h.handler.JoinRoom(w, r, roomID, claims.UserID)
}

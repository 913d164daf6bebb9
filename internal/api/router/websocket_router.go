package router

import (
	"net/http"
	"strings"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/endpoints"
	"livechat-backend/internal/authz"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/websocket"
)

func WebsocketRoutes(prefix string, handler *websocket.Handler, signer *internaljwt.Signer, authorizer authz.Authorizer) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		roomsPrefix := strings.TrimRight(prefix, "/") + "/rooms/"
		wsEndpoints := endpoints.NewWebsocketEndpoints(handler, signer, authorizer, roomsPrefix)

		mux.HandleFunc(roomsPrefix, s.MakeHTTPHandleFunc(wsEndpoints.RoomEvents))
	}
}

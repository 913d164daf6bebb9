package router

import (
	"net/http"
	"strings"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/endpoints"
	"livechat-backend/internal/api/middleware"
	internaljwt "livechat-backend/internal/jwt"
	roomservice "livechat-backend/internal/service/room"
)

func RoomRoutes(prefix string, service *roomservice.Service, signer *internaljwt.Signer) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		roomsPrefix := strings.TrimRight(prefix, "/") + "/rooms/"
		roomEndpoints := endpoints.NewRoomEndpoints(service, roomsPrefix)

		mux.HandleFunc(roomsPrefix, s.MakeHTTPHandleFunc(roomEndpoints.Rooms, middleware.ValidateAgentJWT(signer)))
	}
}

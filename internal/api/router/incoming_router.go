package router

import (
	"net/http"
	"strings"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/endpoints"
	"livechat-backend/internal/api/middleware"
	"livechat-backend/internal/ratelimit"
	"livechat-backend/internal/service/inbound"
	"livechat-backend/utils"
)

// IncomingRoutes authenticates per communication service, not per agent.
// A nil limiter disables rate limiting.
func IncomingRoutes(prefix string, registry *inbound.Registry, router *inbound.Router, limiter ratelimit.Limiter) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		incomingPrefix := strings.TrimRight(prefix, "/") + "/incoming/"
		incomingEndpoints := endpoints.NewIncomingEndpoints(registry, router, incomingPrefix)

		var limits []middleware.Middleware
		if limiter != nil {
			// One budget per service and sender address.
			keyFunc := func(r *http.Request) string {
				return strings.TrimPrefix(r.URL.Path, incomingPrefix) + ":" + utils.RealClientIP(r)
			}
			limits = append(limits, middleware.RateLimit(limiter, keyFunc, s.Logger()))
		}

		mux.HandleFunc(incomingPrefix, s.MakeHTTPHandleFunc(incomingEndpoints.Incoming, limits...))
	}
}

package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"livechat-backend/internal/dto"
	"livechat-backend/internal/service/inbound"
)

type IncomingEndpoints interface {
	Incoming(http.ResponseWriter, *http.Request) error
}

type messageRouter interface {
	Route(ctx context.Context, msg inbound.InboundMessage) (inbound.RouteResult, error)
}

type incomingEndpoints struct {
	registry       *inbound.Registry
	router         messageRouter
	incomingPrefix string
	now            func() time.Time
}

func NewIncomingEndpoints(registry *inbound.Registry, router messageRouter, incomingPrefix string) IncomingEndpoints {
	return &incomingEndpoints{
		registry:       registry,
		router:         router,
		incomingPrefix: incomingPrefix,
		now:            time.Now,
	}
}

func (h *incomingEndpoints) Incoming(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleIncoming,
	})
}

func (h *incomingEndpoints) handleIncoming(w http.ResponseWriter, r *http.Request) error {
	segments, err := pathSegments(r.URL.Path, h.incomingPrefix)
	if err != nil {
		return err
	}
	if len(segments) != 1 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Service not found",
			ErrorLog:   fmt.Errorf("incoming path %s", r.URL.Path),
		}
	}

	service, ok := h.registry.Lookup(segments[0])
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Service not found",
			ErrorLog:   fmt.Errorf("unknown communication service %q", segments[0]),
		}
	}

	if !service.VerifyAuthorization(r.Header.Get("Authorization")) {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("service %s: authorization rejected", service.Name()),
		}
	}

	body, err := readBody(w, r)
	if err != nil {
		return err
	}

	parsed, err := service.Parse(r.Header.Get("Content-Type"), body)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("service %s: %w", service.Name(), err),
		}
	}

	_, err = h.router.Route(r.Context(), inbound.InboundMessage{
		ServiceName: service.Name(),
		RoomType:    service.RoomType(parsed.From),
		From:        parsed.From,
		Body:        parsed.Body,
	})
	if err != nil {
		if errors.Is(err, inbound.ErrInvalidMessage) {
			return &HTTPError{
				StatusCode: http.StatusUnauthorized,
				Message:    "Unauthorized",
				ErrorLog:   fmt.Errorf("service %s: %w", service.Name(), err),
			}
		}
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("service %s: route message: %w", service.Name(), err),
		}
	}

	return WriteJSON(w, http.StatusOK, dto.IncomingReceivedResponse{Received: h.now().UnixMilli()})
}

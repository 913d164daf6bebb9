package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"livechat-backend/internal/api/middleware"
	"livechat-backend/internal/dto"
	"livechat-backend/internal/model"
	roomservice "livechat-backend/internal/service/room"
)

type RoomEndpoints interface {
	Rooms(http.ResponseWriter, *http.Request) error
}

type roomEndpoints struct {
	service     *roomservice.Service
	roomsPrefix string
}

// NewRoomEndpoints serves the routes below roomsPrefix, e.g.
// "/api/agent/v1/rooms/".
func NewRoomEndpoints(service *roomservice.Service, roomsPrefix string) RoomEndpoints {
	return &roomEndpoints{
		service:     service,
		roomsPrefix: roomsPrefix,
	}
}

func (h *roomEndpoints) Rooms(w http.ResponseWriter, r *http.Request) error {
	segments, err := pathSegments(r.URL.Path, h.roomsPrefix)
	if err != nil {
		return err
	}
	if len(segments) != 2 {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown room route %s", r.URL.Path),
		}
	}

	roomID, action := segments[0], segments[1]
	switch action {
	case "previous":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleFindPrevious(w, r, roomID)
			},
		})
	case "merge":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleMerge(w, r, roomID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown room action %q", action),
		}
	}
}

func (h *roomEndpoints) handleFindPrevious(w http.ResponseWriter, r *http.Request, roomID string) error {
	requesterID := middleware.RequesterID(r.Context())

	previous, err := h.service.FindPreviousRoom(r.Context(), requesterID, roomID)
	if err != nil {
		return serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, toRoomResponse(previous))
}

func (h *roomEndpoints) handleMerge(w http.ResponseWriter, r *http.Request, closeRoomID string) error {
	requesterID := middleware.RequesterID(r.Context())

	var req dto.MergeRoomsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	result, err := h.service.MergeRooms(r.Context(), requesterID, closeRoomID, req.TargetRoomID)
	if err != nil {
		return serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.MergeRoomsResponse{
		CloseRoomID:   result.CloseRoomID,
		TargetRoom:    toRoomResponse(result.TargetRoom),
		MovedMessages: result.MovedMessages,
		Settings: dto.MergeSettingsResponse{
			Answered:             result.Settings.Answered,
			LastActivity:         result.Settings.LastActivity,
			LastCustomerActivity: result.Settings.LastCustomerActivity,
			RBInfo:               result.Settings.RBInfo,
		},
		Resumed: result.Resumed,
	})
}

func serviceError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *roomservice.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("room service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Error(), svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case roomservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case roomservice.ErrorCodeNotAuthorized:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case roomservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case roomservice.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	case roomservice.ErrorCodePartialFailure:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func toRoomResponse(item model.RoomItem) dto.RoomResponse {
	return dto.RoomResponse{
		RoomID:          item.RoomID,
		VisitorID:       item.VisitorID,
		VisitorUsername: item.VisitorUsername,
		Open:            item.Open,
		Ts:              item.Ts,
		LastMessageAt:   item.LastMessageAt,
		MsgCount:        item.MsgCount,
		RBInfo:          item.RBInfo,
		Comment:         item.Comment,
		CreatedAt:       item.CreatedAt,
	}
}

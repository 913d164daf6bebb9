package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"livechat-backend/internal/api"
)

type HTTPError = api.HTTPError

const maxBodyBytes = 1 << 20

type ApiMessageResponse struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
		ErrorLog:   fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path),
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body",
			ErrorLog:   fmt.Errorf("decode body: %w", err),
		}
	}
	return nil
}

// readBody reads the whole body, refusing anything over maxBodyBytes rather
// than cutting it short.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &HTTPError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    "Payload too large",
				ErrorLog:   fmt.Errorf("body over %d bytes", tooLarge.Limit),
			}
		}
		return nil, &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body",
			ErrorLog:   fmt.Errorf("read body: %w", err),
		}
	}
	return body, nil
}

// pathSegments splits what follows prefix into its non-empty segments.
func pathSegments(path, prefix string) ([]string, error) {
	if !strings.HasPrefix(path, prefix) {
		return nil, &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("path %s outside %s", path, prefix),
		}
	}
	var out []string
	for _, seg := range strings.Split(strings.TrimPrefix(path, prefix), "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out, nil
}

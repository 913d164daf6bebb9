package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	reached := false
	handler := Chain(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}, CORS(CORSConfig{
		AllowedOrigins:   []string{"https://agents.example.com"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	req := httptest.NewRequest(http.MethodOptions, "/rooms/r1/merge", nil)
	req.Header.Set("Origin", "https://AGENTS.example.com")
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, reached, "preflight must not reach the handler")
	assert.Equal(t, "https://AGENTS.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodOptions, "/rooms/r1/merge", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/rooms/r1/previous", nil)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.True(t, reached, "requests without Origin pass through")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"*"}}
	assert.Equal(t, "*", cfg.matchOrigin("https://a.example.com"))
	assert.Empty(t, cfg.matchOrigin(""))

	cfg.AllowCredentials = true
	assert.Equal(t, "https://a.example.com", cfg.matchOrigin("https://a.example.com"))
}

package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		origin  string
		allowed bool
	}{
		{"dev any origin", "dev", "http://localhost:5173", true},
		{"prod same host", "prod", "https://chat.example.com", true},
		{"prod other host", "prod", "https://evil.example.com", false},
		{"prod host as substring", "prod", "https://chat.example.com.evil.io", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newLimitedEngine(CORS(tt.env))
			req := httptest.NewRequest(http.MethodGet, "http://chat.example.com/a", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("dev"))
	r.OPTIONS("/a", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	req := httptest.NewRequest(http.MethodOptions, "/a", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		origin string
		want   bool
	}{
		{"no origin header", "prod", "", true},
		{"same host", "prod", "https://chat.example.com", true},
		{"sibling subdomain", "prod", "https://evil.chat.example.com", false},
		{"other scheme same host", "prod", "http://chat.example.com", true},
		{"dev allows any", "dev", "http://localhost:5173", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://chat.example.com/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, OriginAllowed(tt.env)(req))
		})
	}
}

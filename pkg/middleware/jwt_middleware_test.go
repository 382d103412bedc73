package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payledger/pkg/utils"
)

var secret = []byte("middleware-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceIDMiddleware())
	auth := r.Group("/", JWTAuthMiddleware(secret))
	auth.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserID)+":"+c.GetString(CtxRole))
	})
	auth.POST("/admin", RoleMiddleware(utils.RoleAdmin, "auditor"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := utils.CreateToken(secret, "user-42", role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := newRouter()

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"valid token", bearer(t, "customer"), http.StatusOK, "user-42:customer"},
		{"lowercase scheme", "bearer " + strings.TrimPrefix(bearer(t, utils.RoleAdmin), "Bearer "), http.StatusOK, "user-42:admin"},
		{"token without role", bearer(t, ""), http.StatusOK, "user-42:customer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRoleMiddleware(t *testing.T) {
	r := newRouter()

	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, "customer"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, utils.RoleAdmin))
	req.Header.Set("X-Trace-ID", "trace-abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "trace-abc", w.Header().Get("X-Trace-ID"))

	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, "auditor"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

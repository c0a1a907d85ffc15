package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llm-gateway/internal/config"
)

func newTestRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin/login", AdminLoginHandler(cfg))
	protected := r.Group("/admin")
	protected.Use(AdminAuthMiddleware(cfg))
	protected.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAdminLoginWithNoPasswordConfiguredReturnsEmptyToken(t *testing.T) {
	cfg := &config.Config{AdminPassword: ""}
	r := newTestRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "", body["token"])
}

func TestAdminLoginRejectsWrongPassword(t *testing.T) {
	cfg := &config.Config{AdminPassword: "correct-horse"}
	r := newTestRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewBufferString(`{"password":"wrong"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminLoginIssuesUsableToken(t *testing.T) {
	cfg := &config.Config{AdminPassword: "correct-horse"}
	r := newTestRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewBufferString(`{"password":"correct-horse"}`))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	req2.Header.Set("Authorization", "Bearer "+body["token"])
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestAdminAuthMiddlewareRejectsMissingOrBadToken(t *testing.T) {
	cfg := &config.Config{AdminPassword: "correct-horse"}
	r := newTestRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	req2.Header.Set("Authorization", "Bearer not-a-real-token")
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestAdminAuthMiddlewareAllowsAllWhenNoPasswordConfigured(t *testing.T) {
	cfg := &config.Config{AdminPassword: ""}
	r := newTestRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthMiddlewareRejectsTokenSignedWithDifferentPassword(t *testing.T) {
	signerCfg := &config.Config{AdminPassword: "password-a"}
	token, err := issueAdminToken(signerCfg)
	require.NoError(t, err)

	verifierCfg := &config.Config{AdminPassword: "password-b"}
	r := newTestRouter(verifierCfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mnote-agent/internal/pkg/jwt"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("secret")
	r := gin.New()
	r.Use(JWTAuth(secret))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextClientIDKey))
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Contains(t, rec.Body.String(), "missing authorization")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	require.Contains(t, serve(r, req).Body.String(), "invalid authorization")

	token, err := jwt.GenerateToken("cli", secret, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cli", rec.Body.String())
}

func TestJWTAuthDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuth(nil))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, "open") })
	require.Equal(t, "open", serve(r, httptest.NewRequest(http.MethodGet, "/me", nil)).Body.String())
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://notes.example.com/"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://notes.example.com")
	rec := serve(r, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://notes.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestIDKey)) })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NotEmpty(t, rec.Body.String())
	require.Equal(t, rec.Body.String(), rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "abc")
	require.Equal(t, "abc", serve(r, req).Header().Get(HeaderRequestID))
}

type httpCalls struct {
	routes []string
	codes  []int
}

func (h *httpCalls) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	h.routes = append(h.routes, route)
	h.codes = append(h.codes, status)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := &httpCalls{}
	r := gin.New()
	r.Use(Metrics(calls))
	r.GET("/notes/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(r, httptest.NewRequest(http.MethodGet, "/notes/42", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, []string{"/notes/:id", "unmatched"}, calls.routes)
	require.Equal(t, []int{http.StatusAccepted, http.StatusNotFound}, calls.codes)
}

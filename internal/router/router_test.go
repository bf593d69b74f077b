package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/reschedule-agent/internal/handler/health"
	promhandler "github.com/jwalitptl/reschedule-agent/internal/handler/prometheus"
	"github.com/jwalitptl/reschedule-agent/internal/middleware"
	"github.com/jwalitptl/reschedule-agent/internal/model"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })
}

type denyAll struct{}

func (denyAll) ValidateToken(string) (*model.TokenClaims, error) {
	return nil, model.ErrInvalidToken
}

func newTestRouter(auth *middleware.AuthMiddleware) *gin.Engine {
	r := NewRouter(
		auth,
		nil,
		pingHandler{},
		health.NewHandler(nil),
		promhandler.New("test", prometheus.NewRegistry()),
		RouterConfig{
			Mode:       gin.TestMode,
			CORSConfig: middleware.DefaultCORSConfig(),
			SizeLimit:  middleware.DefaultSizeLimitConfig(),
			Logger:     zerolog.Nop(),
		},
	)
	r.Setup()
	return r.Engine()
}

func get(e *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestOpenRoutes(t *testing.T) {
	e := newTestRouter(nil)
	assert.Equal(t, http.StatusOK, get(e, "/api/v1/status").Code)
	assert.Equal(t, http.StatusOK, get(e, "/api/v1/health/live").Code)

	w := get(e, "/api/v1/health/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestProtectedRoutes(t *testing.T) {
	e := newTestRouter(middleware.NewAuthMiddleware(denyAll{}))
	assert.Equal(t, http.StatusUnauthorized, get(e, "/api/v1/status").Code)
	assert.Equal(t, http.StatusOK, get(e, "/api/v1/health/ready").Code)
}

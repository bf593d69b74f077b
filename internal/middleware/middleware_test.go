package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*model.TokenClaims, error) {
	if token != "good" {
		return nil, model.ErrInvalidToken
	}
	return &model.TokenClaims{Username: "operator"}, nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDEchoesHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	w := serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "abc-123", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(HeaderXRequestID), 36)
}

func TestAuthenticate(t *testing.T) {
	r := gin.New()
	r.Use(NewAuthMiddleware(stubValidator{}).Authenticate())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextUsername)) })

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer bad", http.StatusUnauthorized},
		{"Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := serve(r, req)
		assert.Equal(t, tc.want, w.Code, tc.header)
		if tc.want == http.StatusOK {
			assert.Equal(t, "operator", w.Body.String())
		}
	}
}

func TestRateLimitPerClient(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2}).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxHeaderSize: 1 << 14}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://ops.example.com"}
	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "includeSubDomains")
}

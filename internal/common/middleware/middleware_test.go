package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSecurityHeaders(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		router := gin.New()
		router.Use(SecurityHeaders(false))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("production adds HSTS and CSP", func(t *testing.T) {
		router := gin.New()
		router.Use(SecurityHeaders(true))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
		assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
	})
}

func TestDistributedRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	newRouter := func(cfg RateLimitConfig) *gin.Engine {
		router := gin.New()
		router.Use(DistributedRateLimit(client, cfg, zap.NewNop()))
		router.GET("/v1/profile/u1", func(c *gin.Context) { c.String(200, "OK") })
		router.POST("/v1/score/login", func(c *gin.Context) { c.String(200, "OK") })
		router.GET("/healthz", func(c *gin.Context) { c.String(200, "OK") })
		return router
	}

	t.Run("blocks after limit", func(t *testing.T) {
		router := newRouter(RateLimitConfig{Requests: 3, Window: time.Minute})

		var last int
		for i := 0; i < 4; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/v1/profile/u1", nil)
			req.RemoteAddr = "10.1.1.1:1234"
			router.ServeHTTP(w, req)
			last = w.Code
		}
		assert.Equal(t, http.StatusTooManyRequests, last)
	})

	t.Run("auth tier is stricter", func(t *testing.T) {
		router := newRouter(RateLimitConfig{
			Requests: 100, Window: time.Minute,
			AuthRequests: 1, AuthWindow: time.Minute,
		})

		first := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/v1/score/login", nil)
		req.RemoteAddr = "10.1.1.2:1234"
		router.ServeHTTP(first, req)
		assert.Equal(t, 200, first.Code)

		second := httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/v1/score/login", nil)
		req.RemoteAddr = "10.1.1.2:1234"
		router.ServeHTTP(second, req)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
	})

	t.Run("health endpoint exempt", func(t *testing.T) {
		router := newRouter(RateLimitConfig{Requests: 1, Window: time.Minute})

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/healthz", nil)
			req.RemoteAddr = "10.1.1.3:1234"
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}
	})

	t.Run("fails open without redis", func(t *testing.T) {
		router := gin.New()
		router.Use(DistributedRateLimit(nil, RateLimitConfig{Requests: 1, Window: time.Minute}, zap.NewNop()))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, 200, w.Code)
		}
	})
}

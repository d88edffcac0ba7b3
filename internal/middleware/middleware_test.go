package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"estados/internal/redis"
	"estados/internal/services"
	estados_errors "estados/pkg/errors"
	"estados/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubLimiter struct {
	result *redis.RateLimitResult
	err    error
	calls  int
}

func (s *stubLimiter) Allow(context.Context, redis.RateLimitAction, string) (*redis.RateLimitResult, error) {
	s.calls++
	return s.result, s.err
}

func signedIn(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(services.WithUserContext(c.Request.Context(), userID, ""))
	}
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	log := logger.Wrap(zaptest.NewLogger(t))
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	tests := []struct {
		name      string
		limiter   Limiter
		signedIn  bool
		wantCode  int
		wantCalls int
	}{
		{"allowed", &stubLimiter{result: &redis.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}}, true, http.StatusNoContent, 1},
		{"denied", &stubLimiter{result: &redis.RateLimitResult{Allowed: false, Limit: 5, ResetIn: time.Minute}}, true, http.StatusTooManyRequests, 1},
		{"limiter failure lets request through", &stubLimiter{err: errors.New("redis down")}, true, http.StatusNoContent, 1},
		{"anonymous skips the limiter", &stubLimiter{result: &redis.RateLimitResult{Allowed: false}}, false, http.StatusNoContent, 0},
		{"nil limiter", nil, true, http.StatusNoContent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			var chain []gin.HandlerFunc
			if tt.signedIn {
				chain = append(chain, signedIn(uuid.New()))
			}
			chain = append(chain, RateLimitMiddleware(tt.limiter, redis.ActionReaction, log), ok)
			engine.POST("/r", chain...)

			w := serve(engine, httptest.NewRequest(http.MethodPost, "/r", nil))
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if s, isStub := tt.limiter.(*stubLimiter); isStub && s.calls != tt.wantCalls {
				t.Fatalf("limiter calls = %d, want %d", s.calls, tt.wantCalls)
			}
		})
	}
}

func TestAuthMiddlewareAcceptsHeaderAndQueryToken(t *testing.T) {
	auth := services.NewAuthService("k")
	userID := uuid.New()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, services.AccessClaims{
		UserID:           userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	engine := gin.New()
	engine.GET("/me", AuthMiddleware(auth), func(c *gin.Context) {
		id, _ := services.UserIDFromContext(c.Request.Context())
		c.String(http.StatusOK, id.String())
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	if w := serve(engine, req); w.Code != http.StatusOK || w.Body.String() != userID.String() {
		t.Fatalf("header token: %d %s", w.Code, w.Body.String())
	}

	if w := serve(engine, httptest.NewRequest(http.MethodGet, "/me?token="+signed, nil)); w.Code != http.StatusOK {
		t.Fatalf("query token: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	if w := serve(engine, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("basic auth accepted: %d", w.Code)
	}
}

func TestErrorHandlerRendersAttachedErrors(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler(logger.Wrap(zaptest.NewLogger(t))))
	engine.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("load: %w", estados_errors.ErrNotFound))
	})
	engine.GET("/written", func(c *gin.Context) {
		c.String(http.StatusTeapot, "short and stout")
		_ = c.Error(errors.New("late"))
	})

	if w := serve(engine, httptest.NewRequest(http.MethodGet, "/missing", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("missing: %d", w.Code)
	}
	if w := serve(engine, httptest.NewRequest(http.MethodGet, "/written", nil)); w.Code != http.StatusTeapot {
		t.Fatalf("written response overwritten: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	engine := gin.New()
	engine.Use(CORSMiddleware([]string{"https://app.example"}))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := serve(engine, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight headers: %v", w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(engine, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin: %d %v", w.Code, w.Header())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.GET("/x", func(c *gin.Context) {
		id, _ := c.Request.Context().Value(logger.RequestIdKey).(string)
		c.String(http.StatusOK, id)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	if w := serve(engine, req); w.Body.String() != "abc-123" || w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("client id not kept: %q", w.Body.String())
	}

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Body.String() == "" || w.Body.String() != w.Header().Get(RequestIDHeader) {
		t.Fatalf("generated id mismatch: %q vs %q", w.Body.String(), w.Header().Get(RequestIDHeader))
	}
}

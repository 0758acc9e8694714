package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"knightshade/internal/common/http/middleware"
	"knightshade/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddlewarePropagatesIncomingIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var ctxTraceID, ctxRequestID interface{}
	router.GET("/ping", middleware.TraceContextMiddleware(), func(c *gin.Context) {
		ctxTraceID = c.Request.Context().Value(contextkey.TraceID)
		ctxRequestID = c.Request.Context().Value(contextkey.RequestID)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-Id", "trace-123")
	req.Header.Set("X-Request-Id", "req-456")
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Trace-Id"); got != "trace-123" {
		t.Fatalf("trace header not echoed: %q", got)
	}
	if got := w.Header().Get("X-Request-Id"); got != "req-456" {
		t.Fatalf("request header not echoed: %q", got)
	}
	if ctxTraceID != "trace-123" || ctxRequestID != "req-456" {
		t.Fatalf("context values missing: %v / %v", ctxTraceID, ctxRequestID)
	}
}

func TestTraceContextMiddlewareGeneratesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ping", middleware.TraceContextMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("expected generated trace id")
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

package trace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestEndSpanRecordsError(t *testing.T) {
	rec := installRecorder(t)

	_, passed := StartSpan(context.Background(), "test", "session.Refresh")
	EndSpan(passed, nil)
	_, failed := StartSpan(context.Background(), "test", "session.Login")
	EndSpan(failed, errors.New("store down"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("successful span must not be marked failed")
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "store down" {
		t.Fatalf("unexpected status %+v", spans[1].Status())
	}
}

func TestMiddlewareNamesSpanByRoute(t *testing.T) {
	rec := installRecorder(t)
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("auth-test"))
	router.POST("/v1/auth/refresh-token", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/auth/refresh-token", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "POST /v1/auth/refresh-token" {
		t.Fatalf("unexpected span name %q", got)
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("5xx response must mark the span failed")
	}
}

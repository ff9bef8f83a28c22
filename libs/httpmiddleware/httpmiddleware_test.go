package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aksharshruti/platform/libs/logging"
	"github.com/gin-gonic/gin"
)

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == "" {
		t.Fatalf("expected generated request id")
	}
	if w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected header %q, got %q", seen, w.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "req-123" {
		t.Fatalf("expected propagated request id, got %q", seen)
	}
}

func clientIPRouter(t *testing.T, proxies []string, behindCloudflare bool) (*gin.Engine, *string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	if err := TrustClientIPSources(r, proxies, behindCloudflare); err != nil {
		t.Fatalf("trust sources: %v", err)
	}
	ip := new(string)
	r.GET("/x", func(c *gin.Context) {
		*ip = ClientIP(c)
		c.Status(http.StatusNoContent)
	})
	return r, ip
}

func TestClientIPIgnoresForwardingHeadersByDefault(t *testing.T) {
	r, ip := clientIPRouter(t, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if *ip != "10.0.0.1" {
		t.Fatalf("expected remote addr ip, got %q", *ip)
	}
}

func TestClientIPHonoursCloudflareWhenConfigured(t *testing.T) {
	r, ip := clientIPRouter(t, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("CF-Connecting-IP", "203.0.113.7")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if *ip != "203.0.113.7" {
		t.Fatalf("expected edge ip, got %q", *ip)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
	if *ip != "10.0.0.1" {
		t.Fatalf("expected remote addr ip without edge header, got %q", *ip)
	}
}

func TestClientIPTrustsConfiguredProxy(t *testing.T) {
	r, ip := clientIPRouter(t, []string{"10.0.0.0/8"}, false)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if *ip != "198.51.100.9" {
		t.Fatalf("expected forwarded ip from trusted proxy, got %q", *ip)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.50:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if *ip != "192.0.2.50" {
		t.Fatalf("untrusted peer must not set its own address, got %q", *ip)
	}
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Recovery(logging.Discard()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

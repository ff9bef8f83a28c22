package rate

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aksharshruti/platform/libs/auth"
	"github.com/aksharshruti/platform/libs/httpmiddleware"
	"github.com/aksharshruti/platform/libs/logging"
	"github.com/aksharshruti/platform/libs/metrics"
	"github.com/gin-gonic/gin"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Identity is the bucket owner for a request: the authenticated user id when
// present, otherwise the caller address.
func Identity(c *gin.Context) string {
	if uid, ok := auth.UserID(c); ok {
		return uid
	}
	if ip := httpmiddleware.ClientIP(c); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

type MiddlewareOption func(*middleware)

func WithClock(now func() time.Time) MiddlewareOption {
	return func(m *middleware) {
		if now != nil {
			m.now = now
		}
	}
}

type middleware struct {
	limiter Limiter
	policy  Policy
	logger  *slog.Logger
	now     func() time.Time
}

// Middleware enforces policy per identity and route. When the limiter's store
// fails the request proceeds unless the policy is FailClosed.
func Middleware(limiter Limiter, policy Policy, logger *slog.Logger, opts ...MiddlewareOption) gin.HandlerFunc {
	m := &middleware{limiter: limiter, policy: policy, logger: logging.OrDefault(logger), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m.handle
}

func (m *middleware) handle(c *gin.Context) {
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = c.Request.URL.Path
	}
	key := Identity(c) + ":" + endpoint

	decision, err := m.limiter.Allow(c.Request.Context(), key, m.policy, m.now())
	if err != nil {
		if m.policy.FailClosed {
			metrics.RateLimitDecisions.WithLabelValues(endpoint, "fail_closed").Inc()
			m.logger.ErrorContext(c.Request.Context(), "rate limiter unavailable, rejecting",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   gin.H{"code": "SERVICE_UNAVAILABLE", "message": "service temporarily unavailable"},
			})
			return
		}
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "fail_open").Inc()
		m.logger.WarnContext(c.Request.Context(), "rate limiter unavailable, allowing request",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		c.Next()
		return
	}

	c.Header(HeaderLimit, strconv.Itoa(decision.Limit))
	c.Header(HeaderRemaining, strconv.Itoa(decision.Remaining))
	c.Header(HeaderReset, strconv.FormatInt(decision.Reset.Unix(), 10))

	if !decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "rejected").Inc()
		seconds := int(decision.RetryAfter / time.Second)
		c.Header(HeaderRetryAfter, strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RATE_LIMITED",
				"message": "Rate limit exceeded. Try again in " + strconv.Itoa(seconds) + " seconds",
			},
		})
		return
	}

	metrics.RateLimitDecisions.WithLabelValues(endpoint, "allowed").Inc()
	c.Next()
}

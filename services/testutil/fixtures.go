package testutil

import (
	"testing"
	"time"

	"github.com/aksharshruti/platform/libs/auth"
)

const (
	TestJWTSecret = "test-secret-test-secret-test-secret"
	TestIssuer    = "aks-auth"

	DemoEmail    = "demo@example.com"
	DemoUsername = "demo"
	DemoPassword = "Demo$ecret1"

	SuspendedEmail    = "suspended@example.com"
	SuspendedPassword = "Suspended$1"
)

// SeededEmails lists every account cmd/seed creates with SEED_TESTDATA=1.
var SeededEmails = []string{DemoEmail, "moderator@example.com", SuspendedEmail, "deleted@example.com"}

// NewCodec builds a codec with the shared test secret. A nil clock uses
// time.Now.
func NewCodec(t *testing.T, now func() time.Time) *auth.Codec {
	t.Helper()
	codec, err := auth.NewCodec([]byte(TestJWTSecret), auth.WithIssuer(TestIssuer), auth.WithClock(now))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

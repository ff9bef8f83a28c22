package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aksharshruti/platform/services/auth/internal/rate"
	"github.com/aksharshruti/platform/services/auth/internal/security"
	"github.com/aksharshruti/platform/services/auth/internal/session"
	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/aksharshruti/platform/services/testutil"
	"github.com/gin-gonic/gin"
)

func TestSessionLifecycleIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	defer pool.Close()
	ctx := context.Background()

	if err := storage.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := testutil.CleanupTestData(ctx, pool); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	defer testutil.CleanupTestData(ctx, pool)

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	codec := testutil.NewCodec(t, nil)
	mgr := session.NewManager(storage.New(pool), codec, security.NewHasher(security.DefaultArgon2Params()), session.WithLogger(logger))
	handler := NewAuthHandler(mgr, codec, rate.NewMemory(time.Minute), generousPolicies(), logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router)

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/auth/register", registerRequest{
		Email: "integration@example.com", Password: strongPassword, Username: "integration", DisplayName: "Integration",
	})
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var reg session.Result
	testutil.DecodeData(t, resp, &reg)

	t.Run("duplicate email", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/auth/register", registerRequest{
			Email: "integration@example.com", Password: strongPassword, Username: "integration2", DisplayName: "Integration",
		})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeEmailTaken)
	})

	t.Run("login", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/auth/login", loginRequest{Email: "integration@example.com", Password: strongPassword})
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	})

	t.Run("concurrent refresh has one winner", func(t *testing.T) {
		const workers = 5
		codes := make(chan int, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/auth/refresh-token", refreshRequest{RefreshToken: reg.Tokens.RefreshToken})
				codes <- resp.Code
			}()
		}
		wg.Wait()
		close(codes)

		ok := 0
		for code := range codes {
			switch code {
			case http.StatusOK:
				ok++
			case http.StatusUnauthorized:
			default:
				t.Fatalf("unexpected status %d", code)
			}
		}
		if ok != 1 {
			t.Fatalf("expected exactly one successful refresh, got %d", ok)
		}
	})

	t.Run("reuse after rotation", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/auth/refresh-token", refreshRequest{RefreshToken: reg.Tokens.RefreshToken})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeTokenRevoked)
	})

	t.Run("sweeper deletes expired records", func(t *testing.T) {
		store := storage.New(pool)
		if _, err := pool.Exec(ctx, `UPDATE refresh_tokens SET expires_at = now() - interval '1 minute'`); err != nil {
			t.Fatalf("expire tokens: %v", err)
		}
		n, err := store.DeleteExpiredRefreshTokens(ctx, time.Now())
		if err != nil {
			t.Fatalf("delete expired: %v", err)
		}
		if n == 0 {
			t.Fatalf("expected expired records to be removed")
		}
	})
}

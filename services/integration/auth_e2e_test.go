package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/aksharshruti/platform/services/testutil"
	"github.com/google/uuid"
)

// These tests run against a live auth service seeded by cmd/seed and started
// with AKS_HTTP_BEHIND_CLOUDFLARE=true.

func getAuthURL() string {
	if url := os.Getenv("AUTH_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type sessionResult struct {
	User struct {
		ID     string `json:"id"`
		Email  string `json:"email"`
		Status string `json:"status"`
	} `json:"user"`
	Tokens tokenPair `json:"tokens"`
}

type response struct {
	Status int
	Header http.Header
	Body   envelope
}

func makeRequest(t *testing.T, method, path string, body any, token string) response {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, getAuthURL()+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// With AKS_HTTP_BEHIND_CLOUDFLARE=true on the service each call gets its
	// own login budget; otherwise the header is ignored and all calls share one.
	req.Header.Set("CF-Connecting-IP", randomIP())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	out := response{Status: resp.StatusCode, Header: resp.Header}
	if err := json.NewDecoder(resp.Body).Decode(&out.Body); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return out
}

func randomIP() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.IntN(255), rand.IntN(255), rand.IntN(255))
}

func expectCode(t *testing.T, resp response, code string) {
	t.Helper()
	if resp.Body.Error == nil {
		t.Fatalf("expected error %s, got success (status %d)", code, resp.Status)
	}
	if resp.Body.Error.Code != code {
		t.Fatalf("expected error %s, got %s", code, resp.Body.Error.Code)
	}
	if want := testutil.StatusForErrorCode(code); resp.Status != want {
		t.Fatalf("expected status %d for %s, got %d", want, code, resp.Status)
	}
}

func decodeSession(t *testing.T, resp response) sessionResult {
	t.Helper()
	if !resp.Body.Success {
		t.Fatalf("expected success, got status %d", resp.Status)
	}
	var out sessionResult
	if err := json.Unmarshal(resp.Body.Data, &out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return out
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
}

func login(t *testing.T, email, password string) sessionResult {
	t.Helper()
	resp := makeRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, "")
	if resp.Status != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", email, resp.Status)
	}
	return decodeSession(t, resp)
}

func TestLoginAndIdentity(t *testing.T) {
	requireIntegration(t)

	t.Run("GET /me without token returns 401", func(t *testing.T) {
		resp := makeRequest(t, http.MethodGet, "/v1/auth/me", nil, "")
		expectCode(t, resp, testutil.ErrorCodeUnauthorized)
	})

	t.Run("GET /me with garbage token returns 401", func(t *testing.T) {
		resp := makeRequest(t, http.MethodGet, "/v1/auth/me", nil, "not-a-token")
		expectCode(t, resp, testutil.ErrorCodeTokenInvalid)
	})

	t.Run("demo user signs in", func(t *testing.T) {
		sess := login(t, testutil.DemoEmail, testutil.DemoPassword)
		if sess.Tokens.ExpiresIn != 900 {
			t.Fatalf("expected 900s access lifetime, got %d", sess.Tokens.ExpiresIn)
		}

		resp := makeRequest(t, http.MethodGet, "/v1/auth/me", nil, sess.Tokens.AccessToken)
		if resp.Status != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Status)
		}
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			t.Fatalf("expected rate limit headers on /me")
		}
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		sess := login(t, testutil.DemoEmail, testutil.DemoPassword)
		resp := makeRequest(t, http.MethodGet, "/v1/auth/me", nil, sess.Tokens.RefreshToken)
		expectCode(t, resp, testutil.ErrorCodeInvalidTokenType)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := makeRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
			"email": testutil.DemoEmail, "password": "Wrong$ecret1",
		}, "")
		expectCode(t, resp, testutil.ErrorCodeInvalidCredentials)
	})

	t.Run("suspended user is refused", func(t *testing.T) {
		resp := makeRequest(t, http.MethodPost, "/v1/auth/login", map[string]string{
			"email": testutil.SuspendedEmail, "password": testutil.SuspendedPassword,
		}, "")
		expectCode(t, resp, testutil.ErrorCodeAccountInactive)
	})
}

func TestRefreshRotation(t *testing.T) {
	requireIntegration(t)

	sess := login(t, testutil.DemoEmail, testutil.DemoPassword)

	rotated := makeRequest(t, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
		"refreshToken": sess.Tokens.RefreshToken,
	}, "")
	next := decodeSession(t, rotated)
	if next.Tokens.RefreshToken == sess.Tokens.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	replay := makeRequest(t, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
		"refreshToken": sess.Tokens.RefreshToken,
	}, "")
	expectCode(t, replay, testutil.ErrorCodeTokenRevoked)

	again := makeRequest(t, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
		"refreshToken": next.Tokens.RefreshToken,
	}, "")
	decodeSession(t, again)
}

func TestRegisterLogoutFlow(t *testing.T) {
	requireIntegration(t)

	suffix := uuid.NewString()[:8]
	email := "e2e_" + suffix + "@example.com"
	password := "E2e$ecret" + suffix

	reg := makeRequest(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"email":       email,
		"password":    password,
		"username":    "e2e_" + suffix,
		"displayName": "E2E " + suffix,
	}, "")
	if reg.Status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", reg.Status)
	}
	sess := decodeSession(t, reg)

	dup := makeRequest(t, http.MethodPost, "/v1/auth/register", map[string]string{
		"email":       email,
		"password":    password,
		"username":    "e2e_other_" + suffix,
		"displayName": "E2E",
	}, "")
	expectCode(t, dup, testutil.ErrorCodeEmailTaken)

	out := makeRequest(t, http.MethodPost, "/v1/auth/logout", map[string]string{
		"refreshToken": sess.Tokens.RefreshToken,
	}, sess.Tokens.AccessToken)
	if out.Status != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", out.Status)
	}

	after := makeRequest(t, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
		"refreshToken": sess.Tokens.RefreshToken,
	}, "")
	expectCode(t, after, testutil.ErrorCodeTokenRevoked)

	second := login(t, email, password)
	third := login(t, email, password)

	all := makeRequest(t, http.MethodPost, "/v1/auth/logout-all", nil, second.Tokens.AccessToken)
	if all.Status != http.StatusOK {
		t.Fatalf("logout-all: expected 200, got %d", all.Status)
	}
	for _, s := range []sessionResult{second, third} {
		resp := makeRequest(t, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
			"refreshToken": s.Tokens.RefreshToken,
		}, "")
		expectCode(t, resp, testutil.ErrorCodeTokenRevoked)
	}
}

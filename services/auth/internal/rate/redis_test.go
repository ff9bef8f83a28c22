package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		s.Close()
	})
	return s, client
}

func TestRedisLimiterWindow(t *testing.T) {
	s, client := newTestRedis(t)
	lim := NewRedisLimiter(client, "test:")
	policy := Policy{Max: 5, Window: 60 * time.Second}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := lim.Allow(ctx, "user-1:/v1/auth/refresh-token", policy, start.Add(time.Duration(i)*time.Second))
		if err != nil || !d.Allowed {
			t.Fatalf("expected allow on call %d, got %+v err=%v", i+1, d, err)
		}
		if d.Remaining != 4-i {
			t.Fatalf("expected remaining %d, got %d", 4-i, d.Remaining)
		}
	}

	d, err := lim.Allow(ctx, "user-1:/v1/auth/refresh-token", policy, start.Add(10*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected rate limited")
	}
	if d.RetryAfter != 50*time.Second {
		t.Fatalf("expected retry after 50s, got %s", d.RetryAfter)
	}

	members, err := s.ZMembers("test:user-1:/v1/auth/refresh-token")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 5 {
		t.Fatalf("rejected attempts must not be recorded, got %d members", len(members))
	}
	if ttl := s.TTL("test:user-1:/v1/auth/refresh-token"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected key expiry within window, got %s", ttl)
	}

	d, err = lim.Allow(ctx, "user-1:/v1/auth/refresh-token", policy, start.Add(60*time.Second))
	if err != nil || !d.Allowed {
		t.Fatalf("expected allow after window, got %+v err=%v", d, err)
	}
}

func TestRedisLimiterSameMillisecondDistinctMembers(t *testing.T) {
	s, client := newTestRedis(t)
	lim := NewRedisLimiter(client, "test:")
	policy := Policy{Max: 10, Window: time.Minute}
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := lim.Allow(context.Background(), "k", policy, now); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	members, err := s.ZMembers("test:k")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 distinct members, got %d", len(members))
	}
}

func TestRedisLimiterStoreDown(t *testing.T) {
	s, client := newTestRedis(t)
	lim := NewRedisLimiter(client, "")
	s.Close()

	if _, err := lim.Allow(context.Background(), "k", Policy{Max: 1, Window: time.Minute}, time.Now()); err == nil {
		t.Fatalf("expected error when store is unreachable")
	}
}

package statestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestState_PutTake(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutState(ctx, "oidc:github:state:abc", map[string]any{"provider": "github"}, time.Minute); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	payload, err := s.TakeState(ctx, "oidc:github:state:abc")
	if err != nil {
		t.Fatalf("TakeState: %v", err)
	}
	if payload["provider"] != "github" {
		t.Errorf("payload = %v", payload)
	}

	if _, err := s.TakeState(ctx, "oidc:github:state:abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second TakeState err = %v, want ErrNotFound", err)
	}
}

func TestState_NilPayload(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutState(ctx, "k", nil, time.Minute); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	payload, err := s.TakeState(ctx, "k")
	if err != nil {
		t.Fatalf("TakeState: %v", err)
	}
	if payload == nil || len(payload) != 0 {
		t.Errorf("payload = %v, want empty map", payload)
	}
}

func TestState_Expires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_ = s.PutState(ctx, "k", nil, 600*time.Second)
	mr.FastForward(601 * time.Second)

	if _, err := s.TakeState(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("TakeState err = %v, want ErrNotFound", err)
	}
}

func TestState_ConcurrentTakeSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_ = s.PutState(ctx, "race", map[string]any{"n": 1}, time.Minute)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TakeState(ctx, "race"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if _, err := s.GetSession(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession before put err = %v", err)
	}

	if err := s.PutSession(ctx, Session{UserID: 9, Token: "t1", CreatedAt: created}, time.Hour); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := s.PutSession(ctx, Session{UserID: 9, Token: "t2", CreatedAt: created}, time.Hour); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := s.GetSession(ctx, 9)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Token != "t2" || !got.CreatedAt.Equal(created) {
		t.Errorf("session = %+v, want last write", got)
	}
	if ttl := mr.TTL("session:9"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	existed, err := s.DeleteSession(ctx, 9)
	if err != nil || !existed {
		t.Fatalf("DeleteSession = %v, %v", existed, err)
	}
	existed, err = s.DeleteSession(ctx, 9)
	if err != nil || existed {
		t.Fatalf("second DeleteSession = %v, %v", existed, err)
	}
}

func TestBlacklist(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Blacklist(ctx, "jti-1", 10*time.Second); err != nil {
		t.Fatalf("Blacklist: %v", err)
	}
	ok, err := s.IsBlacklisted(ctx, "jti-1")
	if err != nil || !ok {
		t.Fatalf("IsBlacklisted = %v, %v", ok, err)
	}
	if ttl := mr.TTL("blacklist:jti-1"); ttl > 10*time.Second {
		t.Errorf("ttl = %v, want <= 10s", ttl)
	}

	mr.FastForward(11 * time.Second)
	ok, _ = s.IsBlacklisted(ctx, "jti-1")
	if ok {
		t.Error("blacklist entry should expire with the token")
	}

	if err := s.Blacklist(ctx, "jti-2", 0); err != nil {
		t.Fatalf("Blacklist with zero ttl: %v", err)
	}
	if mr.Exists("blacklist:jti-2") {
		t.Error("zero ttl should not write an entry")
	}
}

func TestStore_Unavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	ctx := context.Background()

	if _, err := s.IsBlacklisted(ctx, "x"); err == nil {
		t.Error("expected error when Redis is down")
	}
	if _, err := s.TakeState(ctx, "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("TakeState err = %v, want infrastructure error", err)
	}
}

package redisstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
	"mediagen/internal/jobstore/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, WithPrefix("test")), mr
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.JobStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestRetryParksJobInDelayedSet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, "delayed", nil, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now().Add(time.Minute)
	if _, err := s.ClaimDue(ctx, now); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if err := s.MarkRetry(ctx, created.ID, "busy", now.Add(time.Hour), now); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}

	delayed, err := mr.ZMembers("test:delayed")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(delayed) != 1 || delayed[0] != created.ID {
		t.Fatalf("delayed set = %v", delayed)
	}
	if mr.Exists("test:ready") {
		if ready, _ := mr.ZMembers("test:ready"); len(ready) != 0 {
			t.Fatalf("ready set should be empty, got %v", ready)
		}
	}
	if got := mr.HGet("test:job:"+created.ID, "state"); got != "retrying" {
		t.Fatalf("hash state = %q", got)
	}
}

func TestPingReportsUnavailableServer(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure after server shutdown")
	}
}

func TestClaimOfUnreadableJobNamesIt(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, "corrupt", nil, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	mr.HSet("test:job:"+created.ID, "retry_count", "not-a-number")

	_, err = s.ClaimDue(ctx, time.Now().Add(time.Minute))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("ClaimDue = %v, want a persistence error", err)
	}
	if !strings.Contains(err.Error(), created.ID) {
		t.Fatalf("error %q does not name job %s", err, created.ID)
	}
	if got := mr.HGet("test:job:"+created.ID, "state"); got != "processing" {
		t.Fatalf("hash state = %q, want processing", got)
	}
}

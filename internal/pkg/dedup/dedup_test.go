package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return s, rdb
}

func TestReceipts_ClaimOnce(t *testing.T) {
	s, rdb := newRedis(t)
	d := NewReceipts(rdb, time.Minute)
	ctx := context.Background()

	first, err := d.Claim(ctx, 9, 0, "2026-05-01 08:00:00")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !first {
		t.Fatalf("expected first claim to succeed")
	}

	second, err := d.Claim(ctx, 9, 0, "2026-05-01 08:00:00")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second {
		t.Fatalf("expected second claim to be rejected")
	}

	if ttl := s.TTL(receiptKey(9, 0, "2026-05-01 08:00:00")); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestReceipts_NewFireTimeIsSeparate(t *testing.T) {
	_, rdb := newRedis(t)
	d := NewReceipts(rdb, time.Minute)
	ctx := context.Background()

	if ok, _ := d.Claim(ctx, 1, 0, "2026-05-01 08:00:00"); !ok {
		t.Fatalf("expected claim")
	}
	if ok, _ := d.Claim(ctx, 1, 1, "2026-05-02 08:00:00"); !ok {
		t.Fatalf("rescheduled reminder should be claimable")
	}
}

func TestReceipts_NewRevisionIsSeparate(t *testing.T) {
	_, rdb := newRedis(t)
	d := NewReceipts(rdb, time.Minute)
	ctx := context.Background()

	if ok, _ := d.Claim(ctx, 2, 0, "2026-05-01 08:00:00"); !ok {
		t.Fatalf("expected claim")
	}
	if ok, _ := d.Claim(ctx, 2, 1, "2026-05-01 08:00:00"); !ok {
		t.Fatalf("edited reminder with the same fire time should be claimable")
	}
	if ok, _ := d.Claim(ctx, 2, 1, "2026-05-01 08:00:00"); ok {
		t.Fatalf("expected the new revision to be claimed once")
	}
}

func TestReceipts_NilClientAlwaysClaims(t *testing.T) {
	var d *Receipts
	ok, err := d.Claim(context.Background(), 1, 0, "x")
	if err != nil || !ok {
		t.Fatalf("nil receipts should claim: ok=%v err=%v", ok, err)
	}
	ok, err = NewReceipts(nil, 0).Claim(context.Background(), 1, 0, "x")
	if err != nil || !ok {
		t.Fatalf("receipts without redis should claim: ok=%v err=%v", ok, err)
	}
}

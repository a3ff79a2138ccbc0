package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeSource lets tests control exactly what GetAll returns and when it
// should fail, without a database.
type fakeSource struct {
	mu       sync.Mutex
	rows     []domain.Setting
	failNext bool
	calls    int
}

func (f *fakeSource) GetAll(ctx context.Context) ([]domain.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext {
		f.failNext = false
		return nil, errors.New("db unavailable")
	}
	return f.rows, nil
}

func TestCache_GetPopulatesFromSource(t *testing.T) {
	src := &fakeSource{rows: []domain.Setting{
		{Key: "card_count", Value: "12"},
		{Key: "payout_multiplier", Value: "10.00"},
	}}
	c := New(src, time.Minute, nil, nil)

	v, ok := c.Get(context.Background(), "card_count")
	if !ok || v != "12" {
		t.Fatalf("Get(card_count) = %q, %v; want 12, true", v, ok)
	}
	if src.calls != 1 {
		t.Fatalf("expected exactly one DB round-trip, got %d", src.calls)
	}
}

func TestCache_ServesStaleOnRefreshFailure(t *testing.T) {
	src := &fakeSource{rows: []domain.Setting{{Key: "auto_claim", Value: "true"}}}
	c := New(src, time.Millisecond, nil, nil)

	v, ok := c.Get(context.Background(), "auto_claim")
	if !ok || v != "true" {
		t.Fatalf("priming Get failed: %q %v", v, ok)
	}

	time.Sleep(5 * time.Millisecond) // force the entry to expire
	src.failNext = true

	v, ok = c.Get(context.Background(), "auto_claim")
	if !ok || v != "true" {
		t.Fatalf("expected stale value to be served on refresh failure, got %q %v", v, ok)
	}
}

func TestCache_GetNumberFallsBackOnMissingKey(t *testing.T) {
	src := &fakeSource{rows: nil}
	c := New(src, time.Minute, nil, nil)

	def := decimal.NewFromInt(10)
	got := c.GetNumber(context.Background(), "payout_multiplier", def)
	if !got.Equal(def) {
		t.Fatalf("GetNumber() = %s, want default %s", got, def)
	}
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	src := &fakeSource{rows: []domain.Setting{{Key: "card_count", Value: "12"}}}
	c := New(src, time.Hour, nil, nil)

	c.Get(context.Background(), "card_count")
	c.Invalidate(context.Background())
	src.rows = []domain.Setting{{Key: "card_count", Value: "16"}}

	v, _ := c.Get(context.Background(), "card_count")
	if v != "16" {
		t.Fatalf("expected invalidate to force a refetch, got %q", v)
	}
	if src.calls != 2 {
		t.Fatalf("expected 2 DB round-trips across invalidate, got %d", src.calls)
	}
}

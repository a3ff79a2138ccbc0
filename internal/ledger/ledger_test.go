package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeWallets stands in for the database row lock with a plain mutex, the
// same substitution the teacher's concurrent_test.go makes — a *sqlx.Tx
// isn't meaningfully fakeable, but the mutual-exclusion guarantee
// LockBalance/Debit/Credit rely on is.
type fakeWallets struct {
	mu      sync.Mutex
	balance decimal.Decimal
	entries []domain.WalletLedgerEntry
}

func (f *fakeWallets) LockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	f.mu.Lock() // unlocked by the matching Debit/Credit call below
	return f.balance, nil
}

func (f *fakeWallets) Debit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	defer f.mu.Unlock()
	f.balance = f.balance.Sub(amount)
	return nil
}

func (f *fakeWallets) Credit(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	defer f.mu.Unlock()
	f.balance = f.balance.Add(amount)
	return nil
}

func (f *fakeWallets) InsertEntry(ctx context.Context, tx *sqlx.Tx, e *domain.WalletLedgerEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeWallets) ListEntries(ctx context.Context, userID uuid.UUID, filter domain.EntryFilter, page domain.Pagination) ([]domain.WalletLedgerEntry, error) {
	return f.entries, nil
}

// fakeWallets.LockBalance/Debit/Credit always run in pairs in these tests
// (debit or credit is always attempted immediately after locking), so the
// mutex acquired in LockBalance is always released by exactly one of them.
// A real failure path (e.g. insufficient funds) must still release the
// lock — ApplyEntry's own logic never calls Debit/Credit in that case, so
// tests exercising that path unlock explicitly.
func (f *fakeWallets) unlock() { f.mu.Unlock() }

func TestApplyEntry_DebitSucceeds(t *testing.T) {
	wallets := &fakeWallets{balance: decimal.NewFromInt(100)}
	l := New(wallets)

	entry, err := l.ApplyEntry(context.Background(), nil, uuid.New(),
		domain.DirectionDebit, decimal.NewFromInt(40),
		domain.TxGame, domain.RefBetPlacement, uuid.New(), nil, "bet placed")
	if err != nil {
		t.Fatalf("ApplyEntry: %v", err)
	}
	if !wallets.balance.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s, want 60", wallets.balance)
	}
	if entry.Direction != domain.DirectionDebit || entry.Status != domain.EntryCompleted {
		t.Fatalf("unexpected entry shape: %+v", entry)
	}
}

func TestApplyEntry_DebitInsufficientFundsLeavesNoSideEffect(t *testing.T) {
	wallets := &fakeWallets{balance: decimal.NewFromInt(10)}
	l := New(wallets)

	_, err := l.ApplyEntry(context.Background(), nil, uuid.New(),
		domain.DirectionDebit, decimal.NewFromInt(40),
		domain.TxGame, domain.RefBetPlacement, uuid.New(), nil, "bet placed")
	wallets.unlock() // ApplyEntry returned before Debit/Credit, lock still held

	if err != domain.ErrInsufficientBalance {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if !wallets.balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance mutated despite failure: %s", wallets.balance)
	}
	if len(wallets.entries) != 0 {
		t.Fatalf("expected no ledger entry written, got %d", len(wallets.entries))
	}
}

func TestApplyEntry_CreditSucceeds(t *testing.T) {
	wallets := &fakeWallets{balance: decimal.NewFromInt(10)}
	l := New(wallets)

	_, err := l.ApplyEntry(context.Background(), nil, uuid.New(),
		domain.DirectionCredit, decimal.NewFromInt(50),
		domain.TxGame, domain.RefClaim, uuid.New(), nil, "winnings claimed")
	if err != nil {
		t.Fatalf("ApplyEntry: %v", err)
	}
	if !wallets.balance.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s, want 60", wallets.balance)
	}
}

// TestApplyEntry_ConcurrentDebitsRace exercises P5: two concurrent debits of
// 80% of a 100-balance wallet must yield exactly one success.
func TestApplyEntry_ConcurrentDebitsRace(t *testing.T) {
	wallets := &fakeWallets{balance: decimal.NewFromInt(100)}
	l := New(wallets)
	stake := decimal.NewFromInt(80)

	var wins, failures int64
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyEntry(context.Background(), nil, uuid.New(),
				domain.DirectionDebit, stake,
				domain.TxGame, domain.RefBetPlacement, uuid.New(), nil, "race bet")
			if err == nil {
				atomic.AddInt64(&wins, 1)
			} else if err == domain.ErrInsufficientBalance {
				atomic.AddInt64(&failures, 1)
				wallets.unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winning debit, got %d", wins)
	}
	if failures != 1 {
		t.Fatalf("expected exactly 1 INSUFFICIENT_FUNDS, got %d", failures)
	}
	if !wallets.balance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("balance = %s, want 20", wallets.balance)
	}
}

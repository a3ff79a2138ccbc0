package cardgame_test

import (
	"testing"

	"github.com/kismatx/roundengine/internal/cardgame"
	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// TestSelectWinningCard_SingleBetTieBreak validates scenario 1: a single
// bet of 10 on card 7, multiplier 10, card_count 12.
//
//	expected payout if card 7 wins = 10 × 10 = 100
//	expected payout for any other card = 0 × 10 = 0
//
// Every card other than 7 is tied at expected payout 0, so the lowest
// numbered of them — card 1 — wins the tie-break.
func TestSelectWinningCard_SingleBetTieBreak(t *testing.T) {
	bets := map[int]decimal.Decimal{7: decimal.NewFromInt(10)}
	multiplier := decimal.NewFromInt(10)

	got, err := cardgame.SelectWinningCard(bets, multiplier, domain.PolicyLowestLoss, 12, 0)
	if err != nil {
		t.Fatalf("SelectWinningCard: %v", err)
	}
	if got != 1 {
		t.Fatalf("winning card = %d, want 1", got)
	}
}

// TestSelectWinningCard_LowestLossTie validates scenario 2: totals
// {3: 5, 9: 5}, multiplier 10. Expected payout for card 3 and 9 is 50 each;
// every other untouched card has expected payout 0 and ties for lowest —
// card 1 wins.
func TestSelectWinningCard_LowestLossTie(t *testing.T) {
	bets := map[int]decimal.Decimal{3: decimal.NewFromInt(5), 9: decimal.NewFromInt(5)}
	multiplier := decimal.NewFromInt(10)

	got, err := cardgame.SelectWinningCard(bets, multiplier, domain.PolicyLowestLoss, 12, 0)
	if err != nil {
		t.Fatalf("SelectWinningCard: %v", err)
	}
	if got != 1 {
		t.Fatalf("winning card = %d, want 1", got)
	}
}

// TestSelectWinningCard_FixedFallsBackWhenUnset validates that the fixed
// policy falls back to lowest_loss when fixedCard is out of range.
func TestSelectWinningCard_FixedFallsBackWhenUnset(t *testing.T) {
	bets := map[int]decimal.Decimal{7: decimal.NewFromInt(10)}
	multiplier := decimal.NewFromInt(10)

	got, err := cardgame.SelectWinningCard(bets, multiplier, domain.PolicyFixed, 12, 0)
	if err != nil {
		t.Fatalf("SelectWinningCard: %v", err)
	}
	if got != 1 {
		t.Fatalf("winning card = %d, want 1 (fallback to lowest_loss)", got)
	}
}

// TestSelectWinningCard_FixedUsesConfiguredCard validates that a valid
// fixedCard is honored regardless of per-card totals.
func TestSelectWinningCard_FixedUsesConfiguredCard(t *testing.T) {
	bets := map[int]decimal.Decimal{7: decimal.NewFromInt(10)}
	multiplier := decimal.NewFromInt(10)

	got, err := cardgame.SelectWinningCard(bets, multiplier, domain.PolicyFixed, 12, 4)
	if err != nil {
		t.Fatalf("SelectWinningCard: %v", err)
	}
	if got != 4 {
		t.Fatalf("winning card = %d, want 4", got)
	}
}

// TestSelectWinningCard_RandomStaysInRange exercises the random policy
// across many draws to make sure it never leaves [1..card_count].
func TestSelectWinningCard_RandomStaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		got, err := cardgame.SelectWinningCard(nil, decimal.NewFromInt(10), domain.PolicyRandom, 12, 0)
		if err != nil {
			t.Fatalf("SelectWinningCard: %v", err)
		}
		if got < 1 || got > 12 {
			t.Fatalf("random card %d out of range [1,12]", got)
		}
	}
}

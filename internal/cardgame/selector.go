// Package cardgame implements the Winning-Card Selector (SPEC_FULL.md
// §4.3): a pure function with no I/O that picks a round's winning card from
// accumulated per-card bet totals.
package cardgame

import (
	"crypto/rand"
	"math/big"

	"github.com/kismatx/roundengine/internal/domain"
	"github.com/shopspring/decimal"
)

// SelectWinningCard chooses the winning card for a round. bets maps card
// number to its accumulated stake; cards with no entry are treated as zero.
// cardCount is the round's card_count (cards are numbered 1..cardCount).
// fixedCard is only consulted when policy == PolicyFixed.
//
// The function is deterministic for a given input except under
// PolicyRandom, and performs no I/O — callers needing a settings read must
// do it themselves before calling in.
func SelectWinningCard(
	bets map[int]decimal.Decimal,
	multiplier decimal.Decimal,
	policy domain.WinningCardPolicy,
	cardCount int,
	fixedCard int,
) (int, error) {
	if cardCount < 1 {
		return 0, domain.ErrValidation
	}

	switch policy {
	case domain.PolicyRandom:
		return randomCard(cardCount)
	case domain.PolicyFixed:
		if fixedCard >= 1 && fixedCard <= cardCount {
			return fixedCard, nil
		}
		return lowestLoss(bets, multiplier, cardCount), nil
	case domain.PolicyLowestLoss, "":
		return lowestLoss(bets, multiplier, cardCount), nil
	default:
		return lowestLoss(bets, multiplier, cardCount), nil
	}
}

// lowestLoss returns the card that maximizes house profit
// (totalWagered - bets[c]*multiplier), ties broken by lowest card number.
// totalWagered is constant across cards so it never affects which card
// wins — the comparison reduces to minimizing bets[c]*multiplier, i.e.
// minimizing bets[c] since multiplier is constant and positive.
func lowestLoss(bets map[int]decimal.Decimal, multiplier decimal.Decimal, cardCount int) int {
	best := 1
	var bestExpectedPayout decimal.Decimal
	first := true

	for c := 1; c <= cardCount; c++ {
		stake, ok := bets[c]
		if !ok {
			stake = decimal.Zero
		}
		expectedPayout := stake.Mul(multiplier)
		if first || expectedPayout.LessThan(bestExpectedPayout) {
			best = c
			bestExpectedPayout = expectedPayout
			first = false
		}
	}
	return best
}

// randomCard draws uniformly from [1..cardCount] using crypto/rand — money
// paths never use math/rand.
func randomCard(cardCount int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(cardCount)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 1, nil
}

// ExpectedProfit computes totalWagered - bets[c]*multiplier for one card,
// used by the admin settlement-preview endpoint (§6).
func ExpectedProfit(totalWagered decimal.Decimal, cardStake decimal.Decimal, multiplier decimal.Decimal) decimal.Decimal {
	return totalWagered.Sub(cardStake.Mul(multiplier))
}

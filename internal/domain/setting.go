package domain

import "time"

// Setting is one row of the admin-managed key/value settings table that
// the Settings Cache reads through.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Recognized setting keys, see SPEC_FULL.md §4.1.
const (
	SettingRoundDurationSeconds = "round_duration_seconds"
	SettingPayoutMultiplier     = "payout_multiplier"
	SettingCardCount            = "card_count"
	SettingGameResultType       = "game_result_type"
	SettingWinningCardPolicy    = "winning_card_policy"
	SettingAutoClaim            = "auto_claim"
	SettingMaxBetAmount         = "max_bet_amount"
	SettingOperatingWindowStart = "operating_window_start"
	SettingOperatingWindowEnd   = "operating_window_end"
	SettingFixedWinningCard     = "fixed_winning_card"
	SettingCancelCutoffSeconds  = "cancel_cutoff_seconds"
)

// GameResultType selects whether settlement may pick the winning card
// itself (auto) or must wait for an admin to supply one (manual).
type GameResultType string

const (
	GameResultAuto   GameResultType = "auto"
	GameResultManual GameResultType = "manual"
)

// WinningCardPolicy selects the Winning-Card Selector's strategy.
type WinningCardPolicy string

const (
	PolicyLowestLoss WinningCardPolicy = "lowest_loss"
	PolicyRandom     WinningCardPolicy = "random"
	PolicyFixed      WinningCardPolicy = "fixed"
)

// UpsertSettingRequest is the body of PATCH /admin/settings.
type UpsertSettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

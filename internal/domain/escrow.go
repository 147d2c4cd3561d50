package domain

import (
	"fmt"
	"time"
)

// MatchStatus is the lifecycle state of a custody record. The byte values are
// part of the persisted layout and must not be reordered.
type MatchStatus uint8

const (
	MatchStatusWaitingForOpponent MatchStatus = iota
	MatchStatusInProgress
	MatchStatusSettled
	MatchStatusCancelled
)

var matchStatusNames = [...]string{
	MatchStatusWaitingForOpponent: "waiting_for_opponent",
	MatchStatusInProgress:         "in_progress",
	MatchStatusSettled:            "settled",
	MatchStatusCancelled:          "cancelled",
}

// String returns the snake_case name used in APIs and logs.
func (s MatchStatus) String() string {
	if int(s) < len(matchStatusNames) {
		return matchStatusNames[s]
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Valid reports whether s is one of the four defined states.
func (s MatchStatus) Valid() bool {
	return s <= MatchStatusCancelled
}

// Terminal reports whether no further transition can leave s.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusSettled || s == MatchStatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s MatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MatchStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseMatchStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseMatchStatus maps a status name back to its value.
func ParseMatchStatus(name string) (MatchStatus, error) {
	for i, n := range matchStatusNames {
		if n == name {
			return MatchStatus(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown match status %q", name)
}

// CanTransition reports whether the state machine permits from -> to.
//
//	WaitingForOpponent -> InProgress -> Settled
//	WaitingForOpponent -> Cancelled
func CanTransition(from, to MatchStatus) bool {
	switch from {
	case MatchStatusWaitingForOpponent:
		return to == MatchStatusInProgress || to == MatchStatusCancelled
	case MatchStatusInProgress:
		return to == MatchStatusSettled
	default:
		return false
	}
}

// MaxFeePercentage is the inclusive upper bound on GlobalConfig.FeePercentage.
const MaxFeePercentage = 100

// DefaultMinStake is the stake floor (0.01 of a 9-decimal native unit).
const DefaultMinStake uint64 = 10_000_000

// GlobalConfig is the singleton platform record.
type GlobalConfig struct {
	Admin            Address `json:"admin"`
	FeePercentage    uint8   `json:"fee_percentage"`
	TotalMatches     uint64  `json:"total_matches"`
	TotalFeesAccrued uint64  `json:"total_fees_accrued"`
}

// MatchRecord is the custody record for one two-party match.
type MatchRecord struct {
	MatchID     uint64      `json:"match_id"`
	Depositor   Address     `json:"depositor"`
	Opponent    Address     `json:"opponent"`
	StakeAmount uint64      `json:"stake_amount"`
	Status      MatchStatus `json:"status"`
	Winner      Address     `json:"winner"`
	CreatedAt   int64       `json:"created_at"`
}

// CreatedTime returns CreatedAt as a UTC time.
func (m MatchRecord) CreatedTime() time.Time {
	return time.Unix(m.CreatedAt, 0).UTC()
}

// IsParticipant reports whether id is the depositor or the joined opponent.
func (m MatchRecord) IsParticipant(id Address) bool {
	if id.IsZero() {
		return false
	}
	return id == m.Depositor || id == m.Opponent
}

// Settlement is the fund split computed when a match is settled.
type Settlement struct {
	Pool   uint64 `json:"pool"`
	Fee    uint64 `json:"fee"`
	Payout uint64 `json:"payout"`
}

// ConfigView is the configuration record as served by the query surface.
type ConfigView struct {
	Address Address `json:"address"`
	Balance uint64  `json:"balance"`
	GlobalConfig
}

// MatchView is a decoded match record plus its address and held balance.
// Preview is set for in-progress matches.
type MatchView struct {
	Address Address `json:"address"`
	Balance uint64  `json:"balance"`
	MatchRecord
	Preview *Settlement `json:"settlement_preview,omitempty"`
}

package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetStatus mirrors the contract's status enum.
type BetStatus uint8

const (
	BetStatusCreated BetStatus = iota
	BetStatusActive
	BetStatusVotingClosed
	BetStatusResolved
	BetStatusCancelled
)

var betStatusNames = [...]string{"created", "active", "voting_closed", "resolved", "cancelled"}

// Valid reports whether s is one of the known contract states.
func (s BetStatus) Valid() bool { return int(s) < len(betStatusNames) }

func (s BetStatus) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return betStatusNames[s]
}

// BetType mirrors the contract's bet type enum.
type BetType uint8

const (
	BetTypeOneVsOne BetType = iota
	BetTypeGroup
)

func (t BetType) String() string {
	switch t {
	case BetTypeOneVsOne:
		return "one_vs_one"
	case BetTypeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// BetSnapshot is a point-in-time read of one bet's on-chain fields. It is
// never mutated locally; writes go to the contract and the snapshot is
// re-read afterwards.
type BetSnapshot struct {
	ID               uint64           `json:"id"`
	Creator          common.Address   `json:"creator"`
	Token            common.Address   `json:"token"`
	Title            string           `json:"title"`
	Category         string           `json:"category"`
	MetadataRef      string           `json:"metadataRef"`
	StakeAmount      *big.Int         `json:"stakeAmount"`
	VoteDeadline     int64            `json:"voteDeadline"`
	Status           BetStatus        `json:"status"`
	FinalOutcome     common.Hash      `json:"finalOutcome"`
	ParticipantCount uint64           `json:"participantCount"`
	MaxParticipants  uint64           `json:"maxParticipants"`
	BetType          BetType          `json:"betType"`
	Participants     []common.Address `json:"participants"`
	FetchedAt        time.Time        `json:"fetchedAt"`
}

// HasParticipant reports whether addr is in the participant set.
func (b BetSnapshot) HasParticipant(addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	for _, p := range b.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// Deadline returns the vote deadline as a time.
func (b BetSnapshot) Deadline() time.Time {
	return time.Unix(b.VoteDeadline, 0).UTC()
}

// BetIndexEntry records a bet this deployment created or joined. BetID is
// nil when the creation receipt could not be decoded; TxHash then remains
// the only reference to the bet.
type BetIndexEntry struct {
	ID        int64
	BetID     *uint64
	TxHash    string
	ChainID   uint64
	Creator   string
	Cid       string
	LastPhase string
	CreatedAt time.Time
	UpdatedAt time.Time
}

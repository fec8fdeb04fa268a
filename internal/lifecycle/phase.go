// Package lifecycle classifies bets into lifecycle phases and derives the
// actions available to a viewer. Everything here is pure.
package lifecycle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Phase is the lifecycle stage of a bet derived from its snapshot and the clock.
type Phase string

const (
	PhaseJoining      Phase = "JOINING"
	PhaseVoting       Phase = "VOTING"
	PhaseVotingClosed Phase = "VOTING_CLOSED"
	PhaseResolved     Phase = "RESOLVED"
	PhaseCancelled    Phase = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseResolved || p == PhaseCancelled
}

// Classify maps (status, voteDeadline, now) to exactly one phase. Open bets
// (Created or Active) are Joining strictly before the deadline and Voting
// from the deadline on.
func Classify(status domain.BetStatus, voteDeadline, now int64) Phase {
	switch status {
	case domain.BetStatusCancelled:
		return PhaseCancelled
	case domain.BetStatusResolved:
		return PhaseResolved
	case domain.BetStatusVotingClosed:
		return PhaseVotingClosed
	default:
		if now < voteDeadline {
			return PhaseJoining
		}
		return PhaseVoting
	}
}

// Input is everything the resolver looks at. It is rebuilt from fresh reads
// every time a view is rendered.
type Input struct {
	Snapshot  domain.BetSnapshot
	Now       time.Time
	Viewer    common.Address
	Connected bool
	HasVoted  bool
}

// View is the derived state rendered for one viewer.
type View struct {
	Phase         Phase     `json:"phase"`
	IsParticipant bool      `json:"isParticipant"`
	IsFull        bool      `json:"isFull"`
	CanJoin       bool      `json:"canJoin"`
	CanVote       bool      `json:"canVote"`
	CanResolve    bool      `json:"canResolve"`
	HasVoted      bool      `json:"hasVoted"`
	TimeLeft      Countdown `json:"timeLeft"`
	Outcome       Outcome   `json:"outcome"`
}

// Resolve classifies the snapshot and computes the viewer's flags.
func Resolve(in Input) View {
	snap := in.Snapshot
	now := in.Now.Unix()
	phase := Classify(snap.Status, snap.VoteDeadline, now)
	deadlinePassed := now >= snap.VoteDeadline

	v := View{
		Phase:         phase,
		IsParticipant: snap.HasParticipant(in.Viewer),
		IsFull:        snap.ParticipantCount >= snap.MaxParticipants,
		HasVoted:      in.HasVoted,
		TimeLeft:      CountdownTo(snap.Deadline(), in.Now),
	}
	v.CanVote = phase == PhaseVoting && !in.HasVoted && v.IsParticipant && in.Connected
	v.CanResolve = phase == PhaseVotingClosed || (phase == PhaseVoting && deadlinePassed)
	v.CanJoin = phase == PhaseJoining && !v.IsFull && !v.IsParticipant && in.Connected
	if phase == PhaseResolved {
		v.Outcome = DecodeOutcome(snap.FinalOutcome, snap.Participants...)
	}
	return v
}

// Countdown is the time remaining until the vote deadline, split for display.
// It is zero once the deadline has passed.
type Countdown struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
	Expired bool  `json:"expired"`
}

// CountdownTo computes the countdown from now to deadline.
func CountdownTo(deadline, now time.Time) Countdown {
	left := deadline.Sub(now)
	if left <= 0 {
		return Countdown{Expired: true}
	}
	secs := int64(left / time.Second)
	return Countdown{
		Hours:   secs / 3600,
		Minutes: secs % 3600 / 60,
		Seconds: secs % 60,
	}
}

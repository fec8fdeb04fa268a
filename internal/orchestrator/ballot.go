package orchestrator

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/notify"
)

// BallotFlow is a single vote or resolve transaction.
type BallotFlow struct {
	flow
	stage   Stage
	betID   uint64
	outcome [32]byte

	tx   *types.Transaction
	done bool
}

var _ Flow = (*BallotFlow)(nil)

// viewFor reads a fresh snapshot and vote record and resolves the wallet's
// view of the bet.
func viewFor(ctx context.Context, deps *Deps, betID uint64) (lifecycle.View, error) {
	snap, err := deps.Snapshots.Refresh(ctx, betID)
	if err != nil {
		return lifecycle.View{}, err
	}
	account := deps.Wallet.Account()
	voted, err := deps.Snapshots.HasVoted(ctx, betID, account)
	if err != nil {
		return lifecycle.View{}, err
	}
	return lifecycle.Resolve(lifecycle.Input{
		Snapshot:  snap,
		Now:       deps.now(),
		Viewer:    account,
		Connected: deps.Wallet.Connected(),
		HasVoted:  voted,
	}), nil
}

// NewVoteFlow validates the vote and prepares the flow. It refuses with a
// *domain.ValidationError unless the wallet can vote right now.
func NewVoteFlow(ctx context.Context, deps *Deps, session string, betID uint64, outcome string) (*BallotFlow, error) {
	if !deps.Wallet.Connected() {
		return nil, domain.Invalid("wallet", "Please connect your wallet")
	}
	encoded, err := lifecycle.EncodeOutcome(outcome)
	if err != nil {
		return nil, err
	}
	view, err := viewFor(ctx, deps, betID)
	if err != nil {
		return nil, err
	}
	if !view.CanVote {
		switch {
		case view.Phase != lifecycle.PhaseVoting:
			return nil, domain.Invalid("vote", "voting is not open (phase %s)", view.Phase)
		case !view.IsParticipant:
			return nil, domain.Invalid("vote", "only participants can vote")
		case view.HasVoted:
			return nil, domain.Invalid("vote", "already voted")
		default:
			return nil, domain.Invalid("vote", "vote not allowed")
		}
	}
	return newBallot(deps, session, StageVoting, betID, encoded), nil
}

// NewResolveFlow prepares a resolve call. Anyone may resolve once the
// voting window is over.
func NewResolveFlow(ctx context.Context, deps *Deps, session string, betID uint64) (*BallotFlow, error) {
	if !deps.Wallet.Connected() {
		return nil, domain.Invalid("wallet", "Please connect your wallet")
	}
	view, err := viewFor(ctx, deps, betID)
	if err != nil {
		return nil, err
	}
	if !view.CanResolve {
		return nil, domain.Invalid("resolve", "bet cannot be resolved in phase %s", view.Phase)
	}
	return newBallot(deps, session, StageResolving, betID, [32]byte{}), nil
}

func newBallot(deps *Deps, session string, stage Stage, betID uint64, outcome [32]byte) *BallotFlow {
	b := &BallotFlow{stage: stage, betID: betID, outcome: outcome}
	b.init(deps, KindBallot, session)
	id := betID
	b.state.BetID = &id
	return b
}

// Run submits the transaction, or resumes waiting for it.
func (b *BallotFlow) Run(ctx context.Context) error {
	return b.execute(ctx, []step{
		{stage: b.stage, done: func() bool { return b.done }, run: b.submit},
	}, b.complete)
}

func (b *BallotFlow) submit(ctx context.Context) error {
	_, err := b.transact(ctx, b.stage, &b.tx, func(ctx context.Context) (*types.Transaction, error) {
		if b.stage == StageVoting {
			return b.deps.Contract.Vote(ctx, b.betID, b.outcome)
		}
		return b.deps.Contract.Resolve(ctx, b.betID)
	})
	if err != nil {
		return err
	}
	b.done = true
	b.refresh(ctx, b.betID)

	voted, err := b.deps.Snapshots.HasVoted(ctx, b.betID, b.deps.Wallet.Account())
	if err != nil {
		b.logger.WarnContext(ctx, "vote record refresh failed", slog.String("error", err.Error()))
	} else {
		b.update(func(st *State) { st.HasVoted = voted })
	}
	return nil
}

func (b *BallotFlow) complete(ctx context.Context) {
	if b.stage == StageVoting {
		b.deps.Reporter.Completed(ctx, b.State(), notify.EventVoteCast, "Vote submitted")
		return
	}
	st := b.State()
	title := "Bet resolved"
	if st.Snapshot != nil && st.Snapshot.Status == domain.BetStatusResolved {
		title += ": " + lifecycle.DecodeOutcome(st.Snapshot.FinalOutcome, st.Snapshot.Participants...).Label
	}
	b.deps.Reporter.Completed(ctx, st, notify.EventBetResolved, title)
}

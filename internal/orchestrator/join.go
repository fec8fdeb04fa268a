package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/notify"
)

// PreviewStatus is the outcome of looking a bet up before joining it.
type PreviewStatus string

const (
	PreviewJoinable      PreviewStatus = "JOINABLE"
	PreviewNotFound      PreviewStatus = "BET_NOT_FOUND"
	PreviewClosed        PreviewStatus = "BET_CLOSED"
	PreviewFull          PreviewStatus = "BET_FULL"
	PreviewAlreadyJoined PreviewStatus = "ALREADY_PARTICIPANT"
)

// Message is the user-facing text for the status.
func (s PreviewStatus) Message() string {
	switch s {
	case PreviewNotFound:
		return "No active bet found with this ID on the blockchain."
	case PreviewClosed:
		return "This bet is no longer accepting participants."
	case PreviewFull:
		return "This bet has reached maximum participants."
	case PreviewAlreadyJoined:
		return "You are already a participant!"
	default:
		return ""
	}
}

// JoinPreview describes a bet as seen by a prospective participant.
type JoinPreview struct {
	Status        PreviewStatus       `json:"status"`
	Message       string              `json:"message,omitempty"`
	Snapshot      *domain.BetSnapshot `json:"snapshot,omitempty"`
	Phase         lifecycle.Phase     `json:"phase,omitempty"`
	NeedsApproval bool                `json:"needsApproval"`
}

// Preview looks up betID for viewer.
func Preview(ctx context.Context, deps *Deps, betID uint64, viewer common.Address) (JoinPreview, error) {
	snap, err := deps.Snapshots.Refresh(ctx, betID)
	if errors.Is(err, domain.ErrNotFound) {
		return previewOf(PreviewNotFound, nil), nil
	}
	if err != nil {
		return JoinPreview{}, err
	}

	p := previewOf(PreviewJoinable, &snap)
	p.Phase = lifecycle.Classify(snap.Status, snap.VoteDeadline, deps.now().Unix())
	switch {
	case snap.Status != domain.BetStatusCreated && snap.Status != domain.BetStatusActive:
		p.Status = PreviewClosed
	case snap.ParticipantCount >= snap.MaxParticipants:
		p.Status = PreviewFull
	case snap.HasParticipant(viewer):
		p.Status = PreviewAlreadyJoined
	}
	p.Message = p.Status.Message()

	if p.Status == PreviewJoinable && viewer != (common.Address{}) {
		need, err := allowanceShort(ctx, deps, viewer, snap.Token, snap.StakeAmount)
		if err != nil && !errors.Is(err, domain.ErrNotConnected) {
			return JoinPreview{}, err
		}
		p.NeedsApproval = need
	}
	return p, nil
}

func previewOf(status PreviewStatus, snap *domain.BetSnapshot) JoinPreview {
	return JoinPreview{Status: status, Message: status.Message(), Snapshot: snap}
}

// JoinFlow stakes the wallet into an existing bet: approve if needed, join.
type JoinFlow struct {
	flow
	betID uint64
	token common.Address
	stake *big.Int

	approvalDone bool
	approveTx    *types.Transaction
	joinTx       *types.Transaction
	joined       bool
}

var _ Flow = (*JoinFlow)(nil)

// NewJoinFlow prepares a join flow for a previewed bet. If the viewer is
// already a participant the flow starts out complete.
func NewJoinFlow(deps *Deps, session string, p JoinPreview) (*JoinFlow, error) {
	switch p.Status {
	case PreviewJoinable, PreviewAlreadyJoined:
	default:
		return nil, domain.Invalid("betId", "%s: %s", p.Status, p.Message)
	}
	if p.Snapshot == nil {
		return nil, fmt.Errorf("orchestrator/join: preview without snapshot")
	}
	snap := *p.Snapshot
	j := &JoinFlow{betID: snap.ID, token: snap.Token, stake: snap.StakeAmount}
	j.init(deps, KindJoin, session)
	id := snap.ID
	j.state.BetID = &id
	j.state.Snapshot = &snap
	if p.Status == PreviewAlreadyJoined {
		j.approvalDone, j.joined = true, true
		j.state.Stage = StageComplete
	}
	return j, nil
}

// Run executes the remaining stages.
func (j *JoinFlow) Run(ctx context.Context) error {
	return j.execute(ctx, []step{
		{stage: StageApprovingToken, done: func() bool { return j.approvalDone }, check: j.needsApproval, run: j.approve},
		{stage: StageJoiningBet, done: func() bool { return j.joined }, run: j.join},
	}, j.complete)
}

func (j *JoinFlow) needsApproval(ctx context.Context) (bool, error) {
	need, err := allowanceShort(ctx, j.deps, j.deps.Wallet.Account(), j.token, j.stake)
	if err != nil {
		return false, err
	}
	if !need {
		j.approvalDone = true
	}
	return need, nil
}

func (j *JoinFlow) approve(ctx context.Context) error {
	amount := j.deps.Allowances.ApprovalAmount(j.stake)
	spender := j.deps.Contract.Address()
	_, err := j.transact(ctx, StageApprovingToken, &j.approveTx, func(ctx context.Context) (*types.Transaction, error) {
		return j.deps.Allowances.Approve(ctx, j.token, spender, amount)
	})
	if err != nil {
		return err
	}
	j.approvalDone = true
	j.update(func(st *State) { st.Approved = true })
	j.deps.Snapshots.Invalidate(ctx, j.betID)
	return nil
}

func (j *JoinFlow) join(ctx context.Context) error {
	receipt, err := j.transact(ctx, StageJoiningBet, &j.joinTx, func(ctx context.Context) (*types.Transaction, error) {
		return j.deps.Contract.JoinBet(ctx, j.betID)
	})
	if err != nil {
		return err
	}
	j.joined = true
	j.refresh(ctx, j.betID)
	id := j.betID
	j.deps.record(ctx, domain.BetIndexEntry{
		BetID:     &id,
		TxHash:    receipt.TxHash.Hex(),
		Creator:   j.deps.Wallet.Account().Hex(),
		LastPhase: string(lifecycle.PhaseJoining),
	})
	return nil
}

func (j *JoinFlow) complete(ctx context.Context) {
	j.deps.Reporter.Completed(ctx, j.State(), notify.EventBetJoined, "Successfully joined the bet!")
}

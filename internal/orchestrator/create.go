package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/domain"
	"github.com/alanyoungcy/amongfriends/internal/lifecycle"
	"github.com/alanyoungcy/amongfriends/internal/notify"
	"github.com/alanyoungcy/amongfriends/internal/service"
)

// CreateFlow creates a bet and stakes the creator into it:
// upload metadata, create, extract the bet id, approve if needed, join.
type CreateFlow struct {
	flow
	draft domain.WagerDraft

	cid          string
	createTx     *types.Transaction
	receipt      *types.Receipt
	betID        *uint64
	approvalDone bool
	approveTx    *types.Transaction
	joinTx       *types.Transaction
	joined       bool
}

var _ Flow = (*CreateFlow)(nil)

// CheckCreate runs the pre-submission guards. A failure is a
// *domain.ValidationError and no flow is started.
func CheckCreate(ctx context.Context, deps *Deps, draft domain.WagerDraft) error {
	if !deps.Wallet.Connected() {
		return domain.Invalid("wallet", "Please connect your wallet")
	}
	if err := draft.Validate(deps.now()); err != nil {
		return err
	}
	balance, err := deps.Allowances.Balance(ctx, draft.Token, deps.Wallet.Account())
	if err != nil {
		return fmt.Errorf("orchestrator/create: balance: %w", err)
	}
	if !service.HasSufficientBalance(balance, draft.StakeAmount) {
		return domain.Invalid("stakeAmount", "Insufficient token balance")
	}
	return nil
}

// NewCreateFlow prepares a creation flow for draft. It does not run it.
func NewCreateFlow(deps *Deps, session string, draft domain.WagerDraft) *CreateFlow {
	c := &CreateFlow{draft: draft}
	c.init(deps, KindCreate, session)
	return c
}

// Run executes the remaining stages.
func (c *CreateFlow) Run(ctx context.Context) error {
	return c.execute(ctx, []step{
		{stage: StageUploadingMetadata, done: func() bool { return c.cid != "" }, run: c.upload},
		{stage: StageCreatingBet, done: func() bool { return c.receipt != nil }, run: c.create},
		{stage: StageExtractingBetID, done: func() bool { return c.betID != nil }, run: c.extract},
		{stage: StageApprovingToken, done: func() bool { return c.approvalDone }, check: c.needsApproval, run: c.approve},
		{stage: StageJoiningBet, done: func() bool { return c.joined }, run: c.join},
	}, c.complete)
}

func (c *CreateFlow) upload(ctx context.Context) error {
	cid, err := c.deps.Publisher.Publish(ctx, c.draft.Metadata(c.deps.now()))
	if err != nil {
		return err
	}
	c.cid = cid
	c.update(func(st *State) { st.CID = cid })
	return nil
}

func (c *CreateFlow) create(ctx context.Context) error {
	params := chain.CreateBetParams{
		Token:        c.draft.Token,
		Title:        c.draft.Description,
		StakeAmount:  c.draft.StakeAmount,
		VoteDeadline: c.draft.EndDate,
		Category:     string(c.draft.Category.Template()),
		MetadataCID:  c.cid,
	}
	receipt, err := c.transact(ctx, StageCreatingBet, &c.createTx, func(ctx context.Context) (*types.Transaction, error) {
		return c.deps.Contract.CreateBet(ctx, params)
	})
	if err != nil {
		return err
	}
	c.receipt = receipt
	return nil
}

// extract reads the bet id from the BetCreated log. When it is missing the
// bet exists on chain but is untracked, so the transaction hash is indexed
// for manual recovery.
func (c *CreateFlow) extract(ctx context.Context) error {
	txHash := c.receipt.TxHash.Hex()
	ev, err := c.deps.Contract.ParseBetCreated(c.receipt)
	if err != nil {
		c.deps.record(ctx, domain.BetIndexEntry{
			TxHash:  txHash,
			Creator: c.deps.Wallet.Account().Hex(),
			Cid:     c.cid,
		})
		return &domain.IdentifierExtractionError{TxHash: txHash, Err: err}
	}
	id := ev.BetID
	c.betID = &id
	c.update(func(st *State) { st.BetID = &id })
	c.deps.record(ctx, domain.BetIndexEntry{
		BetID:     &id,
		TxHash:    txHash,
		Creator:   ev.Creator.Hex(),
		Cid:       c.cid,
		LastPhase: string(lifecycle.PhaseJoining),
	})
	c.logger.InfoContext(ctx, "bet created", slog.Uint64("bet_id", id), slog.String("tx_hash", txHash))
	return nil
}

func (c *CreateFlow) needsApproval(ctx context.Context) (bool, error) {
	need, err := allowanceShort(ctx, c.deps, c.deps.Wallet.Account(), c.draft.Token, c.draft.StakeAmount)
	if err != nil {
		return false, err
	}
	if !need {
		c.approvalDone = true
	}
	return need, nil
}

func (c *CreateFlow) approve(ctx context.Context) error {
	amount := c.deps.Allowances.ApprovalAmount(c.draft.StakeAmount)
	spender := c.deps.Contract.Address()
	_, err := c.transact(ctx, StageApprovingToken, &c.approveTx, func(ctx context.Context) (*types.Transaction, error) {
		return c.deps.Allowances.Approve(ctx, c.draft.Token, spender, amount)
	})
	if err != nil {
		return err
	}
	c.approvalDone = true
	c.update(func(st *State) { st.Approved = true })
	c.deps.Snapshots.Invalidate(ctx, *c.betID)
	return nil
}

func (c *CreateFlow) join(ctx context.Context) error {
	betID := *c.betID
	receipt, err := c.transact(ctx, StageJoiningBet, &c.joinTx, func(ctx context.Context) (*types.Transaction, error) {
		return c.deps.Contract.JoinBet(ctx, betID)
	})
	if err != nil {
		return err
	}
	c.joined = true
	c.refresh(ctx, betID)
	c.deps.record(ctx, domain.BetIndexEntry{
		BetID:     &betID,
		TxHash:    receipt.TxHash.Hex(),
		Creator:   c.deps.Wallet.Account().Hex(),
		Cid:       c.cid,
		LastPhase: string(lifecycle.PhaseJoining),
	})
	return nil
}

func (c *CreateFlow) complete(ctx context.Context) {
	c.deps.Reporter.Completed(ctx, c.State(), notify.EventBetCreated, "Wager successfully created and joined")
}

// allowanceShort reports whether owner's allowance for the escrow contract is
// below stake.
func allowanceShort(ctx context.Context, deps *Deps, owner, token common.Address, stake *big.Int) (bool, error) {
	allowance, known, err := deps.Allowances.ReadAllowance(ctx, token, owner, deps.Contract.Address())
	if err != nil {
		return false, err
	}
	if !known {
		return false, domain.ErrNotConnected
	}
	return service.NeedsApproval(allowance, stake), nil
}

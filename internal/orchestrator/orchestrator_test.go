package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/domain"
)

var (
	wallet   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	rival    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	escrow   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	usdc     = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	fixedNow = time.Unix(1_800_000_000, 0)
	stake    = big.NewInt(100_000_000)
)

// fakeChain stands in for every chain-facing dependency and records the
// order of the calls that matter.
type fakeChain struct {
	mu        sync.Mutex
	calls     []string
	nonce     uint64
	ops       map[common.Hash]string
	fail      map[string]error
	waitFail  map[string]error
	parseErr  error
	connected bool
	allowance *big.Int
	balance   *big.Int
	snap      domain.BetSnapshot
	missing   bool
	voted     bool
	gate      chan struct{}
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		ops:       make(map[common.Hash]string),
		fail:      make(map[string]error),
		waitFail:  make(map[string]error),
		connected: true,
		allowance: big.NewInt(0),
		balance:   big.NewInt(500_000_000),
		snap: domain.BetSnapshot{
			ID:              7,
			Creator:         rival,
			Token:           usdc,
			StakeAmount:     stake,
			VoteDeadline:    fixedNow.Add(24 * time.Hour).Unix(),
			Status:          domain.BetStatusCreated,
			MaxParticipants: 2,
			Participants:    []common.Address{},
		},
	}
}

func (f *fakeChain) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

func (f *fakeChain) tx(op string) *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce++
	tx := types.NewTx(&types.LegacyTx{Nonce: f.nonce, Data: []byte(op)})
	f.ops[tx.Hash()] = op
	return tx
}

func (f *fakeChain) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChain) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeChain) Account() common.Address {
	if !f.connected {
		return common.Address{}
	}
	return wallet
}

func (f *fakeChain) Connected() bool { return f.connected }

func (f *fakeChain) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.mu.Lock()
	op := f.ops[tx.Hash()]
	err, failed := f.waitFail[op]
	if failed {
		delete(f.waitFail, op)
	}
	f.calls = append(f.calls, "wait:"+op)
	f.mu.Unlock()
	if failed {
		return nil, err
	}
	f.mu.Lock()
	switch op {
	case "approve":
		f.allowance = new(big.Int).Set(stake)
	case "join":
		f.snap.Participants = append(f.snap.Participants, wallet)
		f.snap.ParticipantCount++
	case "vote":
		f.voted = true
	case "resolve":
		f.snap.Status = domain.BetStatusResolved
		f.snap.FinalOutcome = common.BytesToHash(rival.Bytes())
	}
	f.mu.Unlock()
	return &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeChain) Address() common.Address { return escrow }

func (f *fakeChain) CreateBet(context.Context, chain.CreateBetParams) (*types.Transaction, error) {
	if err := f.record("create"); err != nil {
		return nil, err
	}
	return f.tx("create"), nil
}

func (f *fakeChain) JoinBet(context.Context, uint64) (*types.Transaction, error) {
	if err := f.record("join"); err != nil {
		return nil, err
	}
	return f.tx("join"), nil
}

func (f *fakeChain) Vote(context.Context, uint64, [32]byte) (*types.Transaction, error) {
	if err := f.record("vote"); err != nil {
		return nil, err
	}
	return f.tx("vote"), nil
}

func (f *fakeChain) Resolve(context.Context, uint64) (*types.Transaction, error) {
	if err := f.record("resolve"); err != nil {
		return nil, err
	}
	return f.tx("resolve"), nil
}

func (f *fakeChain) ParseBetCreated(r *types.Receipt) (chain.BetCreatedEvent, error) {
	_ = f.record("extract")
	if f.parseErr != nil {
		return chain.BetCreatedEvent{}, f.parseErr
	}
	return chain.BetCreatedEvent{BetID: 7, Creator: wallet, TxHash: r.TxHash}, nil
}

func (f *fakeChain) ReadAllowance(_ context.Context, token, owner, spender common.Address) (*big.Int, bool, error) {
	if err := f.record("allowance"); err != nil {
		return nil, false, err
	}
	if owner == (common.Address{}) {
		return nil, false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), true, nil
}

func (f *fakeChain) ApprovalAmount(required *big.Int) *big.Int { return new(big.Int).Set(required) }

func (f *fakeChain) Approve(context.Context, common.Address, common.Address, *big.Int) (*types.Transaction, error) {
	if err := f.record("approve"); err != nil {
		return nil, err
	}
	return f.tx("approve"), nil
}

func (f *fakeChain) Balance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeChain) Get(ctx context.Context, betID uint64) (domain.BetSnapshot, error) {
	return f.Refresh(ctx, betID)
}

func (f *fakeChain) Refresh(context.Context, uint64) (domain.BetSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing {
		return domain.BetSnapshot{}, domain.ErrNotFound
	}
	snap := f.snap
	snap.Participants = append([]common.Address(nil), f.snap.Participants...)
	return snap, nil
}

func (f *fakeChain) HasVoted(context.Context, uint64, common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voted, nil
}

func (f *fakeChain) Invalidate(context.Context, uint64) { _ = f.record("invalidate") }

func (f *fakeChain) Publish(ctx context.Context, _ any) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.record("upload"); err != nil {
		return "", &domain.PublishError{Err: err}
	}
	return "Qm123", nil
}

type memIndex struct {
	mu      sync.Mutex
	entries []domain.BetIndexEntry
}

func (m *memIndex) Record(_ context.Context, e domain.BetIndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memIndex) GetByTx(context.Context, string) (domain.BetIndexEntry, error) {
	return domain.BetIndexEntry{}, domain.ErrNotFound
}

func (m *memIndex) ListTracked(context.Context, uint64) ([]domain.BetIndexEntry, error) {
	return nil, nil
}

func (m *memIndex) UpdatePhase(context.Context, uint64, uint64, string) error { return nil }

func testDeps(f *fakeChain, idx *memIndex) *Deps {
	d := &Deps{
		Wallet:     f,
		Contract:   f,
		Allowances: f,
		Snapshots:  f,
		Publisher:  f,
		ChainID:    84532,
		Now:        func() time.Time { return fixedNow },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if idx != nil {
		d.Index = idx
	}
	return d
}

func openJoinDraft() domain.WagerDraft {
	return domain.WagerDraft{
		Description:     "Who wins the derby",
		OpenJoin:        true,
		StakeAmount:     new(big.Int).Set(stake),
		Token:           usdc,
		EndDate:         fixedNow.Add(24 * time.Hour),
		MaxParticipants: 2,
		Category:        domain.CustomFields{CustomTitle: "derby"},
	}
}

// steps filters the call log down to the stage-defining calls.
func steps(calls []string) []string {
	keep := map[string]bool{"upload": true, "create": true, "extract": true, "approve": true, "join": true}
	var out []string
	for _, c := range calls {
		if keep[c] {
			out = append(out, c)
		}
	}
	return out
}

func TestCreateHappyPath(t *testing.T) {
	f := newFakeChain()
	idx := &memIndex{}
	flow := NewCreateFlow(testDeps(f, idx), "s1", openJoinDraft())

	require.NoError(t, flow.Run(context.Background()))

	st := flow.State()
	assert.Equal(t, StageComplete, st.Stage)
	assert.Equal(t, 5, st.Ordinal)
	assert.False(t, st.Failed)
	assert.Equal(t, "Qm123", st.CID)
	require.NotNil(t, st.BetID)
	assert.Equal(t, uint64(7), *st.BetID)
	assert.True(t, st.Approved)
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, uint64(1), st.Snapshot.ParticipantCount)

	assert.Equal(t, []string{"upload", "create", "extract", "approve", "join"}, steps(f.Calls()))
	assert.Equal(t, []string{
		"upload", "create", "wait:create", "extract", "allowance",
		"approve", "wait:approve", "invalidate", "join", "wait:join", "invalidate",
	}, f.Calls())

	require.NotEmpty(t, idx.entries)
	require.NotNil(t, idx.entries[0].BetID)
	assert.Equal(t, uint64(84532), idx.entries[0].ChainID)
}

func TestCreateSkipsApprovalWithSufficientAllowance(t *testing.T) {
	f := newFakeChain()
	f.allowance = new(big.Int).Set(stake)
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())

	require.NoError(t, flow.Run(context.Background()))
	assert.Equal(t, []string{"upload", "create", "extract", "join"}, steps(f.Calls()))
	assert.False(t, flow.State().Approved)
}

func TestCreateRetryDoesNotRepeatSucceededStages(t *testing.T) {
	f := newFakeChain()
	f.fail["join"] = errors.New("user rejected")
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())
	ctx := context.Background()

	err := flow.Run(ctx)
	var txErr *domain.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, string(StageJoiningBet), txErr.Stage)

	st := flow.State()
	assert.True(t, st.Failed)
	assert.Equal(t, StageJoiningBet, st.FailedStage)
	assert.Equal(t, 4, st.Ordinal)

	require.NoError(t, flow.Run(ctx))
	assert.Equal(t, 1, f.count("upload"))
	assert.Equal(t, 1, f.count("create"))
	assert.Equal(t, 1, f.count("approve"))
	assert.Equal(t, 2, f.count("join"))
	assert.Equal(t, StageComplete, flow.State().Stage)
}

func TestCreateUploadFailureTouchesNothingOnChain(t *testing.T) {
	f := newFakeChain()
	f.fail["upload"] = errors.New("pinata down")
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())

	err := flow.Run(context.Background())
	var perr *domain.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageUploadingMetadata, flow.State().FailedStage)
	assert.Equal(t, []string{"upload"}, f.Calls())
}

func TestCreateExtractionFailureKeepsTxHash(t *testing.T) {
	f := newFakeChain()
	f.parseErr = chain.ErrBetCreatedMissing
	idx := &memIndex{}
	flow := NewCreateFlow(testDeps(f, idx), "s1", openJoinDraft())

	err := flow.Run(context.Background())
	var xerr *domain.IdentifierExtractionError
	require.ErrorAs(t, err, &xerr)

	st := flow.State()
	assert.Equal(t, StageExtractingBetID, st.FailedStage)
	assert.Equal(t, 2, st.Ordinal)
	assert.Equal(t, st.CreateTx, xerr.TxHash)
	assert.Nil(t, st.BetID)

	require.Len(t, idx.entries, 1)
	assert.Nil(t, idx.entries[0].BetID)
	assert.Equal(t, xerr.TxHash, idx.entries[0].TxHash)
	assert.Equal(t, "Qm123", idx.entries[0].Cid)
	assert.Zero(t, f.count("join"))
}

func TestRevertedTransactionIsResubmittedOnRetry(t *testing.T) {
	f := newFakeChain()
	f.waitFail["create"] = domain.ErrReverted
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())
	ctx := context.Background()

	require.Error(t, flow.Run(ctx))
	require.NoError(t, flow.Run(ctx))
	assert.Equal(t, 2, f.count("create"))
	assert.Equal(t, 1, f.count("upload"))
}

func TestInterruptedWaitIsResumedOnRetry(t *testing.T) {
	f := newFakeChain()
	f.waitFail["join"] = context.Canceled
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())
	ctx := context.Background()

	require.Error(t, flow.Run(ctx))
	joinTx := flow.State().JoinTx
	require.NotEmpty(t, joinTx)

	require.NoError(t, flow.Run(ctx))
	assert.Equal(t, 1, f.count("join"))
	assert.Equal(t, 2, f.count("wait:join"))
	assert.Equal(t, joinTx, flow.State().JoinTx)
}

func TestDismissedFlowCannotResume(t *testing.T) {
	f := newFakeChain()
	f.fail["join"] = errors.New("rejected")
	flow := NewCreateFlow(testDeps(f, nil), "s1", openJoinDraft())
	ctx := context.Background()

	require.Error(t, flow.Run(ctx))
	flow.Dismiss()
	assert.ErrorIs(t, flow.Run(ctx), domain.ErrFlowDismissed)
	assert.True(t, flow.State().Terminal())
}

func TestCheckCreateGuards(t *testing.T) {
	ctx := context.Background()
	var verr *domain.ValidationError

	f := newFakeChain()
	f.balance = big.NewInt(1)
	err := CheckCreate(ctx, testDeps(f, nil), openJoinDraft())
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Insufficient token balance", verr.Msg)

	f = newFakeChain()
	f.connected = false
	require.ErrorAs(t, CheckCreate(ctx, testDeps(f, nil), openJoinDraft()), &verr)

	f = newFakeChain()
	bad := openJoinDraft()
	bad.Description = ""
	require.ErrorAs(t, CheckCreate(ctx, testDeps(f, nil), bad), &verr)

	assert.Zero(t, f.count("upload"))
}

func TestPreview(t *testing.T) {
	ctx := context.Background()

	f := newFakeChain()
	p, err := Preview(ctx, testDeps(f, nil), 7, wallet)
	require.NoError(t, err)
	assert.Equal(t, PreviewJoinable, p.Status)
	assert.True(t, p.NeedsApproval)

	f.missing = true
	p, err = Preview(ctx, testDeps(f, nil), 7, wallet)
	require.NoError(t, err)
	assert.Equal(t, PreviewNotFound, p.Status)

	f = newFakeChain()
	f.snap.Status = domain.BetStatusVotingClosed
	p, _ = Preview(ctx, testDeps(f, nil), 7, wallet)
	assert.Equal(t, PreviewClosed, p.Status)

	f = newFakeChain()
	f.snap.ParticipantCount = 2
	p, _ = Preview(ctx, testDeps(f, nil), 7, wallet)
	assert.Equal(t, PreviewFull, p.Status)
	assert.Contains(t, p.Message, "maximum participants")

	f = newFakeChain()
	f.snap.Participants = []common.Address{wallet}
	f.snap.ParticipantCount = 1
	p, _ = Preview(ctx, testDeps(f, nil), 7, wallet)
	assert.Equal(t, PreviewAlreadyJoined, p.Status)
}

func TestJoinFlow(t *testing.T) {
	ctx := context.Background()
	f := newFakeChain()
	deps := testDeps(f, nil)

	p, err := Preview(ctx, deps, 7, wallet)
	require.NoError(t, err)
	flow, err := NewJoinFlow(deps, "s1", p)
	require.NoError(t, err)
	require.NoError(t, flow.Run(ctx))
	assert.Equal(t, []string{"approve", "join"}, steps(f.Calls()))
	assert.Equal(t, StageComplete, flow.State().Stage)

	f.snap.ParticipantCount = 2
	p, err = Preview(ctx, deps, 7, rival)
	require.NoError(t, err)
	_, err = NewJoinFlow(deps, "s2", p)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestJoinShortCircuitsForParticipant(t *testing.T) {
	f := newFakeChain()
	f.snap.Participants = []common.Address{wallet}
	f.snap.ParticipantCount = 1
	deps := testDeps(f, nil)

	p, err := Preview(context.Background(), deps, 7, wallet)
	require.NoError(t, err)
	flow, err := NewJoinFlow(deps, "s1", p)
	require.NoError(t, err)
	assert.True(t, flow.State().Complete())
	require.NoError(t, flow.Run(context.Background()))
	assert.Zero(t, f.count("join"))
}

func votingChain() *fakeChain {
	f := newFakeChain()
	f.snap.Status = domain.BetStatusActive
	f.snap.VoteDeadline = fixedNow.Add(-time.Minute).Unix()
	f.snap.Participants = []common.Address{rival, wallet}
	f.snap.ParticipantCount = 2
	return f
}

func TestVoteFlow(t *testing.T) {
	ctx := context.Background()
	f := votingChain()
	deps := testDeps(f, nil)

	flow, err := NewVoteFlow(ctx, deps, "s1", 7, rival.Hex())
	require.NoError(t, err)
	require.NoError(t, flow.Run(ctx))

	st := flow.State()
	assert.Equal(t, StageComplete, st.Stage)
	assert.True(t, st.HasVoted)
	assert.Equal(t, 1, f.count("vote"))
	assert.Equal(t, 1, f.count("invalidate"))

	_, err = NewVoteFlow(ctx, deps, "s1", 7, rival.Hex())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "already voted", verr.Msg)
}

func TestVoteRefusedOutsideVotingPhase(t *testing.T) {
	ctx := context.Background()
	var verr *domain.ValidationError

	f := newFakeChain()
	f.snap.Participants = []common.Address{wallet}
	_, err := NewVoteFlow(ctx, testDeps(f, nil), "s1", 7, "TeamA")
	require.ErrorAs(t, err, &verr)

	f = votingChain()
	f.snap.Participants = []common.Address{rival}
	_, err = NewVoteFlow(ctx, testDeps(f, nil), "s1", 7, "TeamA")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "only participants can vote", verr.Msg)

	f = votingChain()
	_, err = NewVoteFlow(ctx, testDeps(f, nil), "s1", 7, "")
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.count("vote"))
}

func TestResolveFlow(t *testing.T) {
	ctx := context.Background()

	f := newFakeChain()
	_, err := NewResolveFlow(ctx, testDeps(f, nil), "s1", 7)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	f = votingChain()
	flow, err := NewResolveFlow(ctx, testDeps(f, nil), "s1", 7)
	require.NoError(t, err)
	require.NoError(t, flow.Run(ctx))
	st := flow.State()
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, domain.BetStatusResolved, st.Snapshot.Status)
}

func TestStageOrdinals(t *testing.T) {
	assert.Equal(t, 0, StageIdle.Ordinal())
	assert.Equal(t, 1, StageUploadingMetadata.Ordinal())
	assert.Equal(t, 2, StageCreatingBet.Ordinal())
	assert.Equal(t, 2, StageExtractingBetID.Ordinal())
	assert.Equal(t, 3, StageApprovingToken.Ordinal())
	assert.Equal(t, 4, StageJoiningBet.Ordinal())
	assert.Equal(t, 5, StageComplete.Ordinal())

	k, err := ParseKind("join")
	require.NoError(t, err)
	assert.Equal(t, KindJoin, k)
	_, err = ParseKind("swap")
	assert.Error(t, err)
}

func TestRegistryOneFlowPerSession(t *testing.T) {
	f := newFakeChain()
	f.gate = make(chan struct{})
	reg := NewRegistry(testDeps(f, nil), nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer reg.Close()
	ctx := context.Background()

	st, err := reg.StartCreate(ctx, "s1", openJoinDraft())
	require.NoError(t, err)
	assert.Equal(t, KindCreate, st.Kind)

	_, err = reg.StartCreate(ctx, "s1", openJoinDraft())
	assert.ErrorIs(t, err, domain.ErrFlowActive)

	// Other sessions and other kinds are independent.
	_, err = reg.StartCreate(ctx, "s2", openJoinDraft())
	require.NoError(t, err)

	require.NoError(t, reg.Dismiss("s1", KindCreate))
	got, err := reg.State("s1", KindCreate)
	require.NoError(t, err)
	assert.Equal(t, StageIdle, got.Stage)
	_, err = reg.Retry("s1", KindCreate)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	close(f.gate)
	require.Eventually(t, func() bool {
		st, _ := reg.State("s2", KindCreate)
		return st.Complete()
	}, 2*time.Second, 10*time.Millisecond)

	_, err = reg.StartCreate(ctx, "s2", openJoinDraft())
	assert.NoError(t, err)
}

func TestRegistryRetry(t *testing.T) {
	f := newFakeChain()
	f.fail["join"] = errors.New("rejected")
	reg := NewRegistry(testDeps(f, nil), nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer reg.Close()

	_, err := reg.StartCreate(context.Background(), "s1", openJoinDraft())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := reg.State("s1", KindCreate)
		return st.Failed && !st.Running
	}, 2*time.Second, 10*time.Millisecond)

	_, err = reg.StartCreate(context.Background(), "s1", openJoinDraft())
	assert.ErrorIs(t, err, domain.ErrFlowActive)

	_, err = reg.Retry("s1", KindCreate)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := reg.State("s1", KindCreate)
		return st.Complete()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.count("create"))
}

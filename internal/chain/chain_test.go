package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/amongfriends/internal/crypto"
	"github.com/alanyoungcy/amongfriends/internal/domain"
)

var (
	contractAddr = common.HexToAddress("0x227cBC1033dD32996eb62A8cb72AA57029628e9E")
	creatorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	usdcAddr     = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// abiTransactor answers Call by packing canned outputs for the method selector.
type abiTransactor struct {
	abi     abi.ABI
	results map[string][]any
	sent    []string
}

func (f *abiTransactor) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	m, err := f.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	vals, ok := f.results[m.Name]
	if !ok {
		return nil, errors.New("no canned result for " + m.Name)
	}
	return m.Outputs.Pack(vals...)
}

func (f *abiTransactor) Send(_ context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	m, err := f.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	f.sent = append(f.sent, m.Name)
	return types.NewTx(&types.DynamicFeeTx{To: &to, Data: data}), nil
}

func (f *abiTransactor) WaitMined(context.Context, *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func newTestContract(t *testing.T) (*BetContract, *abiTransactor) {
	t.Helper()
	c, err := NewBetContract(nil, contractAddr)
	require.NoError(t, err)
	fake := &abiTransactor{abi: c.ABI(), results: map[string][]any{}}
	c.tx = fake
	return c, fake
}

func detailsTuple(status uint8, outcome [32]byte) []any {
	return []any{
		creatorAddr,
		usdcAddr,
		"Lakers vs Celtics",
		big.NewInt(100_000_000),
		big.NewInt(1_700_000_000),
		"SPORTS",
		"Qm123",
		status,
		outcome,
		big.NewInt(1),
		uint8(0),
		big.NewInt(2),
	}
}

func TestGetBetDetailsDecodesNamedTuple(t *testing.T) {
	c, fake := newTestContract(t)
	fake.results["getBetDetails"] = detailsTuple(1, [32]byte{})

	d, err := c.GetBetDetails(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, d.Exists())
	assert.Equal(t, "Qm123", d.MetadataCID)
	assert.Equal(t, uint8(1), d.Status)

	snap, err := d.Snapshot(7, []common.Address{creatorAddr}, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusActive, snap.Status)
	assert.Equal(t, int64(1_700_000_000), snap.VoteDeadline)
	assert.Equal(t, uint64(2), snap.MaxParticipants)
	assert.Equal(t, "Qm123", snap.MetadataRef)
	assert.True(t, snap.HasParticipant(creatorAddr))
}

func TestSnapshotRejectsUnknownStatus(t *testing.T) {
	c, fake := newTestContract(t)
	fake.results["getBetDetails"] = detailsTuple(9, [32]byte{})

	d, err := c.GetBetDetails(context.Background(), 1)
	require.NoError(t, err)
	_, err = d.Snapshot(1, nil, time.Now())
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)
}

func TestDecodeBetDetailsShapeMismatch(t *testing.T) {
	_, err := decodeBetDetails([]any{creatorAddr, usdcAddr})
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)

	tuple := detailsTuple(0, [32]byte{})
	tuple[2] = 42
	_, err = decodeBetDetails(tuple)
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)
}

func TestPointReads(t *testing.T) {
	c, fake := newTestContract(t)
	fake.results["getParticipants"] = []any{[]common.Address{creatorAddr}}
	fake.results["hasVoted"] = []any{true}
	fake.results["getUserBets"] = []any{[]*big.Int{big.NewInt(3), big.NewInt(7)}}
	fake.results["nextBetId"] = []any{big.NewInt(8)}

	ctx := context.Background()
	ps, err := c.GetParticipants(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{creatorAddr}, ps)

	voted, err := c.HasVoted(ctx, 7, creatorAddr)
	require.NoError(t, err)
	assert.True(t, voted)

	ids, err := c.GetUserBets(ctx, creatorAddr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 7}, ids)

	next, err := c.NextBetID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next)
}

func TestWritesPackCalls(t *testing.T) {
	c, fake := newTestContract(t)
	ctx := context.Background()

	_, err := c.CreateBet(ctx, CreateBetParams{
		Token:        usdcAddr,
		Title:        "t",
		StakeAmount:  big.NewInt(1),
		VoteDeadline: time.Unix(1_700_000_000, 0),
		Category:     "CUSTOM",
		MetadataCID:  "Qm123",
	})
	require.NoError(t, err)
	_, err = c.JoinBet(ctx, 7)
	require.NoError(t, err)
	_, err = c.Vote(ctx, 7, [32]byte{1})
	require.NoError(t, err)
	_, err = c.Resolve(ctx, 7)
	require.NoError(t, err)
	_, err = c.CancelBet(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"createBet", "joinBet", "vote", "resolve", "cancelBet"}, fake.sent)
}

func betCreatedLog(t *testing.T, c *BetContract, addr common.Address, betID int64) *types.Log {
	t.Helper()
	ev := c.ABI().Events["BetCreated"]
	data, err := ev.Inputs.NonIndexed().Pack(
		usdcAddr, "Lakers vs Celtics", big.NewInt(100), big.NewInt(1_700_000_000), "SPORTS", "Qm123",
	)
	require.NoError(t, err)
	return &types.Log{
		Address: addr,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(betID)),
			common.BytesToHash(creatorAddr.Bytes()),
		},
		Data: data,
	}
}

func TestParseBetCreated(t *testing.T) {
	c, _ := newTestContract(t)

	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	receipt := &types.Receipt{
		TxHash: common.HexToHash("0xabc"),
		Logs: []*types.Log{
			betCreatedLog(t, c, other, 99),
			betCreatedLog(t, c, contractAddr, 7),
		},
	}
	ev, err := c.ParseBetCreated(receipt)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ev.BetID)
	assert.Equal(t, creatorAddr, ev.Creator)
	assert.Equal(t, "Qm123", ev.MetadataCID)
	assert.Equal(t, usdcAddr, ev.Token)

	_, err = c.ParseBetCreated(&types.Receipt{Logs: []*types.Log{betCreatedLog(t, c, other, 1)}})
	assert.ErrorIs(t, err, ErrBetCreatedMissing)
}

func TestTokenBinding(t *testing.T) {
	tok, err := NewToken(nil)
	require.NoError(t, err)
	fake := &abiTransactor{abi: tok.abi, results: map[string][]any{
		"allowance": {big.NewInt(5)},
		"balanceOf": {big.NewInt(500)},
		"decimals":  {uint8(6)},
		"symbol":    {"USDC"},
	}}
	tok.tx = fake
	ctx := context.Background()

	a, err := tok.Allowance(ctx, usdcAddr, creatorAddr, contractAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.Int64())
	b, err := tok.BalanceOf(ctx, usdcAddr, creatorAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.Int64())
	d, err := tok.Decimals(ctx, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), d)
	s, err := tok.Symbol(ctx, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, "USDC", s)

	_, err = tok.Approve(ctx, usdcAddr, contractAddr, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, []string{"approve"}, fake.sent)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(map[uint64]string{137: "0x00000000000000000000000000000000000000ff"}, true)
	require.NoError(t, err)

	n, err := r.Lookup(84532)
	require.NoError(t, err)
	assert.Equal(t, contractAddr, n.Contract)

	_, err = r.Lookup(1)
	assert.ErrorIs(t, err, domain.ErrUnknownChain)

	assert.Equal(t, []uint64{137, 5003, 84532}, r.Supported())

	info, ok := r.Token(84532, usdcAddr)
	require.True(t, ok)
	assert.Equal(t, uint8(6), info.Decimals)

	prod, err := NewRegistry(nil, false)
	require.NoError(t, err)
	_, err = prod.Lookup(84532)
	assert.ErrorIs(t, err, domain.ErrUnknownChain)

	_, err = NewRegistry(map[uint64]string{1: "nope"}, false)
	assert.Error(t, err)
}

// fakeBackend is an in-memory chain node.
type fakeBackend struct {
	mu        sync.Mutex
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	misses    int
	estimated uint64
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(84532), nil }
func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }
func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}
func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.estimated, nil
}
func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}
func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.misses > 0 {
		b.misses--
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func TestGatewaySendAndWait(t *testing.T) {
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 84532)
	require.NoError(t, err)
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}, estimated: 100_000, misses: 2}
	gw := NewGateway(backend, GatewayConfig{ChainID: 84532, PollInterval: time.Millisecond}, signer, discardLogger())

	ctx := context.Background()
	tx, err := gw.Send(ctx, contractAddr, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, int64(22), tx.GasFeeCap().Int64())
	assert.Equal(t, uint64(0), tx.Nonce())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	backend.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5)}
	r, err := gw.WaitMined(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.BlockNumber.Int64())

	tx2, err := gw.Send(ctx, contractAddr, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tx2.Nonce())
	backend.receipts[tx2.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed}
	_, err = gw.WaitMined(ctx, tx2)
	assert.ErrorIs(t, err, domain.ErrReverted)
}

func TestGatewayWithoutSigner(t *testing.T) {
	gw := NewGateway(&fakeBackend{}, GatewayConfig{ChainID: 1}, nil, discardLogger())
	assert.False(t, gw.Connected())
	_, err := gw.Send(context.Background(), contractAddr, nil)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestWaitMinedHonoursContext(t *testing.T) {
	backend := &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
	gw := NewGateway(backend, GatewayConfig{ChainID: 1, PollInterval: time.Millisecond}, nil, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := gw.WaitMined(ctx, types.NewTx(&types.LegacyTx{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
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
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	usdc    = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	escrow  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	details map[uint64]chain.BetDetails
	parts   map[uint64][]common.Address
	voted   map[common.Address]bool
	calls   int
	err     error
}

func (f *fakeReader) GetBetDetails(_ context.Context, id uint64) (chain.BetDetails, error) {
	f.calls++
	if f.err != nil {
		return chain.BetDetails{}, f.err
	}
	return f.details[id], nil
}

func (f *fakeReader) GetParticipants(_ context.Context, id uint64) ([]common.Address, error) {
	return f.parts[id], f.err
}

func (f *fakeReader) HasVoted(_ context.Context, _ uint64, user common.Address) (bool, error) {
	return f.voted[user], f.err
}

func sampleDetails() chain.BetDetails {
	return chain.BetDetails{
		Creator:          creator,
		Token:            usdc,
		Title:            "Lakers vs Celtics",
		StakeAmount:      big.NewInt(100_000_000),
		VoteDeadline:     big.NewInt(1_900_000_000),
		Category:         "SPORTS",
		MetadataCID:      "Qm123",
		Status:           uint8(domain.BetStatusActive),
		ParticipantCount: big.NewInt(1),
		BetType:          uint8(domain.BetTypeOneVsOne),
		MaxParticipants:  big.NewInt(2),
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[uint64]domain.BetSnapshot
}

func newMapCache() *mapCache { return &mapCache{m: make(map[uint64]domain.BetSnapshot)} }

func (c *mapCache) Set(_ context.Context, s domain.BetSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[s.ID] = s
	return nil
}

func (c *mapCache) Get(_ context.Context, id uint64) (domain.BetSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[id]
	if !ok {
		return domain.BetSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *mapCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

func TestSnapshotNilIDIsNoop(t *testing.T) {
	r := &fakeReader{}
	svc := NewSnapshotService(r, nil, discardLogger())
	_, ok, err := svc.Snapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, r.calls)
}

func TestSnapshotReadThroughCache(t *testing.T) {
	r := &fakeReader{
		details: map[uint64]chain.BetDetails{7: sampleDetails()},
		parts:   map[uint64][]common.Address{7: {creator}},
	}
	cache := newMapCache()
	svc := NewSnapshotService(r, cache, discardLogger())
	ctx := context.Background()
	id := uint64(7)

	snap, ok, err := svc.Snapshot(ctx, &id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Qm123", snap.MetadataRef)
	assert.Equal(t, []common.Address{creator}, snap.Participants)

	_, err = svc.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	svc.Invalidate(ctx, 7)
	_, err = svc.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls)
}

func TestSnapshotErrors(t *testing.T) {
	ctx := context.Background()

	svc := NewSnapshotService(&fakeReader{details: map[uint64]chain.BetDetails{}}, nil, discardLogger())
	_, err := svc.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	svc = NewSnapshotService(&fakeReader{err: errors.New("rpc down")}, nil, discardLogger())
	_, err = svc.Get(ctx, 1)
	var gre *domain.GatewayReadError
	require.ErrorAs(t, err, &gre)
	assert.Equal(t, "getBetDetails", gre.Op)

	_, err = svc.HasVoted(ctx, 1, creator)
	assert.ErrorAs(t, err, &gre)
}

func TestHasVotedIsNotCached(t *testing.T) {
	r := &fakeReader{voted: map[common.Address]bool{}}
	svc := NewSnapshotService(r, newMapCache(), discardLogger())
	ctx := context.Background()

	v, err := svc.HasVoted(ctx, 7, creator)
	require.NoError(t, err)
	assert.False(t, v)

	r.voted[creator] = true
	v, err = svc.HasVoted(ctx, 7, creator)
	require.NoError(t, err)
	assert.True(t, v)
}

type fakeTokens struct {
	allowance *big.Int
	balance   *big.Int
	approved  []*big.Int
	reads     int
}

func (f *fakeTokens) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	f.reads++
	return f.allowance, nil
}

func (f *fakeTokens) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeTokens) Decimals(context.Context, common.Address) (uint8, error) {
	f.reads++
	return 6, nil
}

func (f *fakeTokens) Approve(_ context.Context, _, _ common.Address, amount *big.Int) (*types.Transaction, error) {
	f.approved = append(f.approved, amount)
	return types.NewTx(&types.DynamicFeeTx{Nonce: uint64(len(f.approved))}), nil
}

func TestReadAllowanceSkipsUnknownIdentifiers(t *testing.T) {
	tokens := &fakeTokens{allowance: big.NewInt(5)}
	svc := NewAllowanceService(tokens, ApprovalExact, discardLogger())
	ctx := context.Background()

	_, known, err := svc.ReadAllowance(ctx, usdc, common.Address{}, escrow)
	require.NoError(t, err)
	assert.False(t, known)
	assert.Zero(t, tokens.reads)

	amt, known, err := svc.ReadAllowance(ctx, usdc, creator, escrow)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, int64(5), amt.Int64())
}

func TestNeedsApproval(t *testing.T) {
	stake := big.NewInt(100)
	assert.True(t, NeedsApproval(nil, stake))
	assert.True(t, NeedsApproval(big.NewInt(99), stake))
	assert.False(t, NeedsApproval(big.NewInt(100), stake))
	assert.False(t, NeedsApproval(big.NewInt(1000), stake))
}

func TestApprovalPolicy(t *testing.T) {
	stake := big.NewInt(100)
	exact := NewAllowanceService(&fakeTokens{}, ApprovalExact, discardLogger())
	assert.Equal(t, stake, exact.ApprovalAmount(stake))

	unlimited := NewAllowanceService(&fakeTokens{}, ApprovalUnlimited, discardLogger())
	assert.Equal(t, 0, maxUint256.Cmp(unlimited.ApprovalAmount(stake)))

	fallback := NewAllowanceService(&fakeTokens{}, "bogus", discardLogger())
	assert.Equal(t, ApprovalExact, fallback.Policy())
}

func TestApprovePanicsOnPartialIdentifiers(t *testing.T) {
	svc := NewAllowanceService(&fakeTokens{}, ApprovalExact, discardLogger())
	ctx := context.Background()
	assert.Panics(t, func() { _, _ = svc.Approve(ctx, common.Address{}, escrow, big.NewInt(1)) })
	assert.Panics(t, func() { _, _ = svc.Approve(ctx, usdc, common.Address{}, big.NewInt(1)) })
	assert.Panics(t, func() { _, _ = svc.Approve(ctx, usdc, escrow, big.NewInt(0)) })
	assert.Panics(t, func() { _, _ = svc.Approve(ctx, usdc, escrow, nil) })

	tx, err := svc.Approve(ctx, usdc, escrow, big.NewInt(1))
	require.NoError(t, err)
	assert.NotNil(t, tx)
}

func TestBalanceAndDecimals(t *testing.T) {
	tokens := &fakeTokens{balance: big.NewInt(50)}
	svc := NewAllowanceService(tokens, ApprovalExact, discardLogger())
	ctx := context.Background()

	bal, err := svc.Balance(ctx, usdc, creator)
	require.NoError(t, err)
	assert.False(t, HasSufficientBalance(bal, big.NewInt(100)))
	assert.True(t, HasSufficientBalance(bal, big.NewInt(50)))

	for i := 0; i < 3; i++ {
		d, err := svc.Decimals(ctx, usdc)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	}
	assert.Equal(t, 1, tokens.reads)
}

func TestParseAndFormatAmount(t *testing.T) {
	v, err := ParseAmount("100", 6)
	require.NoError(t, err)
	assert.Equal(t, "100000000", v.String())

	v, err = ParseAmount("0.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", v.String())

	for _, bad := range []string{"", "abc", "-1", "0", "1.0000001"} {
		_, err := ParseAmount(bad, 6)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, bad)
	}

	assert.Equal(t, "100", FormatAmount(big.NewInt(100_000_000), 6))
	assert.Equal(t, "1.5", FormatAmount(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0", FormatAmount(nil, 6))
}

func TestParseAmountRejectsHugeInput(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		_, err := ParseAmount("1e400000000", 6)
		done <- err
	}()
	select {
	case err := <-done:
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	case <-time.After(2 * time.Second):
		t.Fatal("ParseAmount did not return for an exponent amount")
	}

	for _, bad := range []string{"1E3", "2.5e-1", strings.Repeat("9", 81)} {
		_, err := ParseAmount(bad, 6)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, bad)
	}

	// 2^256 in base units does not fit the contract's uint256 stake.
	over := new(big.Int).Add(maxUint256, big.NewInt(1))
	_, err := ParseAmount(over.String(), 0)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	v, err := ParseAmount(maxUint256.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, maxUint256.Cmp(v))

	_, err = ParseAmount("1"+strings.Repeat("0", 60), 18)
	assert.ErrorAs(t, err, &verr)
}

func TestFormatAmountAfterParse(t *testing.T) {
	v, err := ParseAmount("10.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "10.5", FormatAmount(v, 6))
}

type fakePinner struct {
	cid  string
	err  error
	docs map[string][]byte
}

func (p *fakePinner) PinJSON(context.Context, any) (string, error) { return p.cid, p.err }

func (p *fakePinner) Fetch(_ context.Context, cid string) ([]byte, error) {
	b, ok := p.docs[cid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type memBlob struct {
	objects map[string][]byte
}

func (b *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	return nil
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func TestPublishMirrorsDocument(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	svc := NewMetadataService(&fakePinner{cid: "Qm123"}, blob, blob, discardLogger())
	ctx := context.Background()

	cid, err := svc.Publish(ctx, map[string]string{"template": "CUSTOM"})
	require.NoError(t, err)
	assert.Equal(t, "Qm123", cid)
	assert.JSONEq(t, `{"template":"CUSTOM"}`, string(blob.objects["metadata/Qm123.json"]))

	doc, err := svc.Fetch(ctx, "Qm123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"template":"CUSTOM"}`, string(doc))
}

func TestPublishFailureIsPublishError(t *testing.T) {
	svc := NewMetadataService(&fakePinner{err: errors.New("503")}, nil, nil, discardLogger())
	_, err := svc.Publish(context.Background(), map[string]string{})
	var perr *domain.PublishError
	assert.ErrorAs(t, err, &perr)

	svc = NewMetadataService(&fakePinner{cid: ""}, nil, nil, discardLogger())
	_, err = svc.Publish(context.Background(), map[string]string{})
	assert.ErrorAs(t, err, &perr)
}

func TestFetchFallsBackToGateway(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	pin := &fakePinner{docs: map[string][]byte{"QmGw": []byte(`{"a":1}`)}}
	svc := NewMetadataService(pin, blob, blob, discardLogger())

	doc, err := svc.Fetch(context.Background(), "QmGw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(doc))

	_, err = svc.Fetch(context.Background(), "QmNope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeLookup struct {
	gotSport, gotLeague string
}

func (f *fakeLookup) Leagues(_ context.Context, sport string) ([]domain.League, error) {
	f.gotSport = sport
	return []domain.League{{ID: "nba", Name: "NBA"}}, nil
}

func (f *fakeLookup) Teams(_ context.Context, sport, league string) ([]domain.Team, error) {
	f.gotSport, f.gotLeague = sport, league
	return []domain.Team{}, nil
}

func TestLookupValidation(t *testing.T) {
	store := &fakeLookup{}
	svc := NewLookupService(store)
	ctx := context.Background()

	_, err := svc.Leagues(ctx, " ")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Missing sportId", verr.Msg)

	_, err = svc.Teams(ctx, "basketball", "")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Missing leagueId", verr.Msg)

	leagues, err := svc.Leagues(ctx, "Basketball")
	require.NoError(t, err)
	assert.Len(t, leagues, 1)
	assert.Equal(t, "basketball", store.gotSport)
}

type memPrefs struct {
	m map[string]string
}

func (p *memPrefs) Get(_ context.Context, session, key string) (string, error) {
	v, ok := p.m[session+"/"+key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (p *memPrefs) Set(_ context.Context, session, key, value string) error {
	p.m[session+"/"+key] = value
	return nil
}

func TestAppStateThemePersistence(t *testing.T) {
	prefs := &memPrefs{m: map[string]string{}}
	ctx := context.Background()

	st := NewAppState(prefs)
	theme, err := st.Theme(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)

	next, err := st.ToggleTheme(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, next)
	assert.Error(t, st.SetTheme(ctx, "s1", "sepia"))

	st.AddWager("s1", domain.BetSnapshot{ID: 1})

	// A fresh container sees the persisted theme but not the wager list.
	restarted := NewAppState(prefs)
	theme, err = restarted.Theme(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)
	assert.Empty(t, restarted.Wagers("s1"))
}

func TestAppStateWagers(t *testing.T) {
	st := NewAppState(nil)
	st.SetWagers("s1", []domain.BetSnapshot{{ID: 1}, {ID: 2}})
	st.AddWager("s1", domain.BetSnapshot{ID: 3})

	ids := func() []uint64 {
		var out []uint64
		for _, w := range st.Wagers("s1") {
			out = append(out, w.ID)
		}
		return out
	}
	assert.Equal(t, []uint64{3, 1, 2}, ids())

	ok := st.UpdateWager("s1", 2, func(w *domain.BetSnapshot) { w.Title = "updated" })
	assert.True(t, ok)
	assert.False(t, st.UpdateWager("s1", 42, func(*domain.BetSnapshot) {}))
	assert.Equal(t, "updated", st.Wagers("s1")[2].Title)

	id := uint64(3)
	st.SetSelectedWager("s1", &id)
	got, ok := st.SelectedWager("s1")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), got)
	st.SetSelectedWager("s1", nil)
	_, ok = st.SelectedWager("s1")
	assert.False(t, ok)
}

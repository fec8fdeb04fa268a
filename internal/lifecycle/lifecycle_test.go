package lifecycle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

var (
	alice = common.HexToAddress("0xAbC0000000000000000000000000000000000123")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

const deadline = int64(1_700_000_000)

var allStatuses = []domain.BetStatus{
	domain.BetStatusCreated,
	domain.BetStatusActive,
	domain.BetStatusVotingClosed,
	domain.BetStatusResolved,
	domain.BetStatusCancelled,
}

func TestClassifyTotal(t *testing.T) {
	known := map[Phase]bool{
		PhaseJoining: true, PhaseVoting: true, PhaseVotingClosed: true, PhaseResolved: true, PhaseCancelled: true,
	}
	for _, st := range allStatuses {
		for _, now := range []int64{0, deadline - 1, deadline, deadline + 1, deadline + 86400} {
			p := Classify(st, deadline, now)
			assert.True(t, known[p], "status %s now %d gave %q", st, now, p)
		}
	}
}

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		status domain.BetStatus
		now    int64
		want   Phase
	}{
		{domain.BetStatusCreated, deadline - 1, PhaseJoining},
		{domain.BetStatusCreated, deadline, PhaseVoting},
		{domain.BetStatusActive, deadline - 1, PhaseJoining},
		{domain.BetStatusActive, deadline + 10, PhaseVoting},
		{domain.BetStatusVotingClosed, deadline - 1, PhaseVotingClosed},
		{domain.BetStatusResolved, deadline + 10, PhaseResolved},
		{domain.BetStatusCancelled, deadline - 1, PhaseCancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.status, deadline, tt.now), "%s @ %d", tt.status, tt.now)
	}
}

func TestDeadlineCrossingIsMonotonic(t *testing.T) {
	require.Equal(t, PhaseJoining, Classify(domain.BetStatusCreated, deadline, deadline-1))
	for now := deadline; now < deadline+1000; now++ {
		require.Equal(t, PhaseVoting, Classify(domain.BetStatusCreated, deadline, now))
	}
}

func votingInput() Input {
	return Input{
		Snapshot: domain.BetSnapshot{
			ID:               7,
			Status:           domain.BetStatusActive,
			VoteDeadline:     deadline,
			StakeAmount:      big.NewInt(100),
			ParticipantCount: 2,
			MaxParticipants:  2,
			Participants:     []common.Address{alice, bob},
		},
		Now:       time.Unix(deadline+60, 0),
		Viewer:    alice,
		Connected: true,
	}
}

func TestCanVoteRequiresAllConditions(t *testing.T) {
	require.True(t, Resolve(votingInput()).CanVote)

	violations := map[string]func(in *Input){
		"not voting phase": func(in *Input) { in.Now = time.Unix(deadline-60, 0) },
		"not participant":  func(in *Input) { in.Viewer = common.HexToAddress("0x01") },
		"already voted":    func(in *Input) { in.HasVoted = true },
		"not connected":    func(in *Input) { in.Connected = false },
	}
	for name, violate := range violations {
		t.Run(name, func(t *testing.T) {
			in := votingInput()
			violate(&in)
			assert.False(t, Resolve(in).CanVote)
		})
	}
}

func TestDerivedFlags(t *testing.T) {
	in := votingInput()
	v := Resolve(in)
	assert.True(t, v.IsFull)
	assert.True(t, v.IsParticipant)
	assert.True(t, v.CanResolve)
	assert.False(t, v.CanJoin)
	assert.True(t, v.TimeLeft.Expired)

	in.Snapshot.Status = domain.BetStatusVotingClosed
	assert.True(t, Resolve(in).CanResolve)

	in = votingInput()
	in.Now = time.Unix(deadline-3725, 0)
	in.Viewer = common.HexToAddress("0x02")
	in.Snapshot.ParticipantCount = 1
	in.Snapshot.Participants = []common.Address{alice}
	v = Resolve(in)
	assert.Equal(t, PhaseJoining, v.Phase)
	assert.True(t, v.CanJoin)
	assert.False(t, v.CanResolve)
	assert.Equal(t, Countdown{Hours: 1, Minutes: 2, Seconds: 5}, v.TimeLeft)
}

func TestEncodeOutcome(t *testing.T) {
	got, err := EncodeOutcome("0xAbC0000000000000000000000000000000000123")
	require.NoError(t, err)
	var want [32]byte
	copy(want[12:], alice.Bytes())
	assert.Equal(t, want, got)

	got, err = EncodeOutcome("TeamA")
	require.NoError(t, err)
	want = [32]byte{}
	copy(want[27:], "TeamA")
	assert.Equal(t, want, got)

	padded, err := EncodeOutcome("  0xAbC0000000000000000000000000000000000123\n")
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(alice.Bytes()), common.Hash(padded))

	_, err = EncodeOutcome("")
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = EncodeOutcome("this label is far too long to fit in a bytes32")
	assert.True(t, errors.As(err, &verr))
}

func TestDecodeOutcome(t *testing.T) {
	none := DecodeOutcome(common.Hash{})
	assert.False(t, none.Decided)
	assert.Equal(t, NoWinner, none.String())
	assert.NotEmpty(t, none.Label)

	label, err := EncodeOutcome("TeamA")
	require.NoError(t, err)
	o := DecodeOutcome(label)
	assert.True(t, o.Decided)
	assert.Nil(t, o.Winner)
	assert.Equal(t, "TeamA", o.Label)

	addr, err := EncodeOutcome(bob.Hex())
	require.NoError(t, err)
	o = DecodeOutcome(addr, alice, bob)
	require.NotNil(t, o.Winner)
	assert.Equal(t, bob, *o.Winner)

	o = DecodeOutcome(common.BytesToHash(alice.Bytes()))
	require.NotNil(t, o.Winner)
	assert.Equal(t, alice, *o.Winner)
}

func TestResolvedViewDecodesOutcome(t *testing.T) {
	in := votingInput()
	in.Snapshot.Status = domain.BetStatusResolved
	in.Snapshot.FinalOutcome = common.BytesToHash(bob.Bytes())
	v := Resolve(in)
	assert.Equal(t, PhaseResolved, v.Phase)
	assert.True(t, v.Phase.Terminal())
	require.NotNil(t, v.Outcome.Winner)
	assert.Equal(t, bob, *v.Outcome.Winner)
	assert.False(t, v.CanVote)
	assert.False(t, v.CanResolve)
}

package chain

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

//go:embed abi/amongfriends.json
var betContractABI []byte

// ErrBetCreatedMissing is returned by ParseBetCreated when the receipt holds
// no BetCreated log from the contract.
var ErrBetCreatedMissing = errors.New("chain/contract: no BetCreated event in receipt")

// BetDetails is the decoded getBetDetails tuple.
type BetDetails struct {
	Creator          common.Address
	Token            common.Address
	Title            string
	StakeAmount      *big.Int
	VoteDeadline     *big.Int
	Category         string
	MetadataCID      string
	Status           uint8
	FinalOutcome     [32]byte
	ParticipantCount *big.Int
	BetType          uint8
	MaxParticipants  *big.Int
}

// Exists reports whether the tuple describes a real bet. The contract
// returns a zero tuple for unknown IDs.
func (d BetDetails) Exists() bool {
	return d.Creator != (common.Address{})
}

// Snapshot converts the tuple into the domain read model.
func (d BetDetails) Snapshot(id uint64, participants []common.Address, fetchedAt time.Time) (domain.BetSnapshot, error) {
	status := domain.BetStatus(d.Status)
	if !status.Valid() {
		return domain.BetSnapshot{}, fmt.Errorf("chain/contract: status %d: %w", d.Status, domain.ErrShapeMismatch)
	}
	if !d.VoteDeadline.IsInt64() || !d.ParticipantCount.IsUint64() || !d.MaxParticipants.IsUint64() {
		return domain.BetSnapshot{}, fmt.Errorf("chain/contract: numeric field out of range: %w", domain.ErrShapeMismatch)
	}
	if participants == nil {
		participants = []common.Address{}
	}
	return domain.BetSnapshot{
		ID:               id,
		Creator:          d.Creator,
		Token:            d.Token,
		Title:            d.Title,
		Category:         d.Category,
		MetadataRef:      d.MetadataCID,
		StakeAmount:      new(big.Int).Set(d.StakeAmount),
		VoteDeadline:     d.VoteDeadline.Int64(),
		Status:           status,
		FinalOutcome:     common.Hash(d.FinalOutcome),
		ParticipantCount: d.ParticipantCount.Uint64(),
		MaxParticipants:  d.MaxParticipants.Uint64(),
		BetType:          domain.BetType(d.BetType),
		Participants:     participants,
		FetchedAt:        fetchedAt,
	}, nil
}

// CreateBetParams are the createBet arguments.
type CreateBetParams struct {
	Token        common.Address
	Title        string
	StakeAmount  *big.Int
	VoteDeadline time.Time
	Category     string
	MetadataCID  string
}

// BetCreatedEvent is a decoded BetCreated log.
type BetCreatedEvent struct {
	BetID       uint64
	Creator     common.Address
	Token       common.Address
	Title       string
	StakeAmount *big.Int
	MetadataCID string
	TxHash      common.Hash
}

// BetContract is a typed binding for the AmongFriends escrow contract.
type BetContract struct {
	tx      Transactor
	address common.Address
	abi     abi.ABI
}

// NewBetContract binds the contract deployed at address.
func NewBetContract(tx Transactor, address common.Address) (*BetContract, error) {
	parsed, err := abi.JSON(bytes.NewReader(betContractABI))
	if err != nil {
		return nil, fmt.Errorf("chain/contract: parse abi: %w", err)
	}
	return &BetContract{tx: tx, address: address, abi: parsed}, nil
}

// Address returns the deployment address. It is the spender for stake approvals.
func (c *BetContract) Address() common.Address { return c.address }

// ABI exposes the parsed contract ABI.
func (c *BetContract) ABI() abi.ABI { return c.abi }

// GetBetDetails reads and validates the getBetDetails tuple.
func (c *BetContract) GetBetDetails(ctx context.Context, betID uint64) (BetDetails, error) {
	out, err := c.call(ctx, "getBetDetails", new(big.Int).SetUint64(betID))
	if err != nil {
		return BetDetails{}, err
	}
	return decodeBetDetails(out)
}

// GetParticipants returns the participant list in join order.
func (c *BetContract) GetParticipants(ctx context.Context, betID uint64) ([]common.Address, error) {
	out, err := c.call(ctx, "getParticipants", new(big.Int).SetUint64(betID))
	if err != nil {
		return nil, err
	}
	return single[[]common.Address](out, "getParticipants")
}

// HasVoted reports whether user already voted on betID.
func (c *BetContract) HasVoted(ctx context.Context, betID uint64, user common.Address) (bool, error) {
	out, err := c.call(ctx, "hasVoted", new(big.Int).SetUint64(betID), user)
	if err != nil {
		return false, err
	}
	return single[bool](out, "hasVoted")
}

// GetUserBets lists bet IDs user created or joined.
func (c *BetContract) GetUserBets(ctx context.Context, user common.Address) ([]uint64, error) {
	out, err := c.call(ctx, "getUserBets", user)
	if err != nil {
		return nil, err
	}
	raw, err := single[[]*big.Int](out, "getUserBets")
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		if !id.IsUint64() {
			return nil, fmt.Errorf("chain/contract: getUserBets id %s: %w", id, domain.ErrShapeMismatch)
		}
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

// NextBetID returns the ID the next createBet will be assigned.
func (c *BetContract) NextBetID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "nextBetId")
	if err != nil {
		return 0, err
	}
	id, err := single[*big.Int](out, "nextBetId")
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

// CreateBet submits createBet.
func (c *BetContract) CreateBet(ctx context.Context, p CreateBetParams) (*types.Transaction, error) {
	return c.send(ctx, "createBet",
		p.Token,
		p.Title,
		p.StakeAmount,
		big.NewInt(p.VoteDeadline.Unix()),
		p.Category,
		p.MetadataCID,
	)
}

// JoinBet submits joinBet. The stake must already be approved.
func (c *BetContract) JoinBet(ctx context.Context, betID uint64) (*types.Transaction, error) {
	return c.send(ctx, "joinBet", new(big.Int).SetUint64(betID))
}

// Vote submits vote with a 32-byte encoded outcome.
func (c *BetContract) Vote(ctx context.Context, betID uint64, outcome [32]byte) (*types.Transaction, error) {
	return c.send(ctx, "vote", new(big.Int).SetUint64(betID), outcome)
}

// Resolve submits the permissionless resolve trigger.
func (c *BetContract) Resolve(ctx context.Context, betID uint64) (*types.Transaction, error) {
	return c.send(ctx, "resolve", new(big.Int).SetUint64(betID))
}

// CancelBet submits cancelBet.
func (c *BetContract) CancelBet(ctx context.Context, betID uint64) (*types.Transaction, error) {
	return c.send(ctx, "cancelBet", new(big.Int).SetUint64(betID))
}

// WaitMined waits for tx through the underlying gateway.
func (c *BetContract) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return c.tx.WaitMined(ctx, tx)
}

// ParseBetCreated finds the BetCreated log emitted by this contract in receipt.
func (c *BetContract) ParseBetCreated(receipt *types.Receipt) (BetCreatedEvent, error) {
	ev, ok := c.abi.Events["BetCreated"]
	if !ok {
		return BetCreatedEvent{}, errors.New("chain/contract: abi has no BetCreated event")
	}
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) < 3 || lg.Topics[0] != ev.ID {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !id.IsUint64() {
			return BetCreatedEvent{}, fmt.Errorf("chain/contract: bet id %s: %w", id, domain.ErrShapeMismatch)
		}
		fields := map[string]any{}
		if err := c.abi.UnpackIntoMap(fields, "BetCreated", lg.Data); err != nil {
			return BetCreatedEvent{}, fmt.Errorf("chain/contract: decode BetCreated: %w", err)
		}
		out := BetCreatedEvent{
			BetID:   id.Uint64(),
			Creator: common.BytesToAddress(lg.Topics[2].Bytes()),
			TxHash:  receipt.TxHash,
		}
		out.Token, _ = fields["token"].(common.Address)
		out.Title, _ = fields["title"].(string)
		out.StakeAmount, _ = fields["stakeAmount"].(*big.Int)
		out.MetadataCID, _ = fields["metadataCID"].(string)
		return out, nil
	}
	return BetCreatedEvent{}, ErrBetCreatedMissing
}

func (c *BetContract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain/contract: pack %s: %w", method, err)
	}
	raw, err := c.tx.Call(ctx, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("chain/contract: %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain/contract: unpack %s: %w: %w", method, domain.ErrShapeMismatch, err)
	}
	return out, nil
}

func (c *BetContract) send(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain/contract: pack %s: %w", method, err)
	}
	tx, err := c.tx.Send(ctx, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("chain/contract: %s: %w", method, err)
	}
	return tx, nil
}

func decodeBetDetails(out []any) (BetDetails, error) {
	const fields = 12
	if len(out) != fields {
		return BetDetails{}, fmt.Errorf("chain/contract: getBetDetails returned %d fields, want %d: %w",
			len(out), fields, domain.ErrShapeMismatch)
	}
	var (
		d   BetDetails
		err error
	)
	set := func(dst any, i int, name string) {
		if err != nil {
			return
		}
		err = assign(dst, out[i], name)
	}
	set(&d.Creator, 0, "creator")
	set(&d.Token, 1, "token")
	set(&d.Title, 2, "title")
	set(&d.StakeAmount, 3, "stakeAmount")
	set(&d.VoteDeadline, 4, "voteDeadline")
	set(&d.Category, 5, "category")
	set(&d.MetadataCID, 6, "metadataCID")
	set(&d.Status, 7, "status")
	set(&d.FinalOutcome, 8, "finalOutcome")
	set(&d.ParticipantCount, 9, "participantCount")
	set(&d.BetType, 10, "betType")
	set(&d.MaxParticipants, 11, "maxParticipants")
	if err != nil {
		return BetDetails{}, err
	}
	return d, nil
}

func assign(dst, v any, name string) error {
	ok := false
	switch p := dst.(type) {
	case *common.Address:
		*p, ok = v.(common.Address)
	case *string:
		*p, ok = v.(string)
	case **big.Int:
		*p, ok = v.(*big.Int)
		ok = ok && *p != nil
	case *uint8:
		*p, ok = v.(uint8)
	case *[32]byte:
		*p, ok = v.([32]byte)
	}
	if !ok {
		return fmt.Errorf("chain/contract: field %s has type %T: %w", name, v, domain.ErrShapeMismatch)
	}
	return nil
}

func single[T any](out []any, method string) (T, error) {
	var zero T
	if len(out) != 1 {
		return zero, fmt.Errorf("chain/contract: %s returned %d values: %w", method, len(out), domain.ErrShapeMismatch)
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("chain/contract: %s returned %T: %w", method, out[0], domain.ErrShapeMismatch)
	}
	return v, nil
}

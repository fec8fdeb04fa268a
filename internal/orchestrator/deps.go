package orchestrator

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Wallet is the connected account and its confirmation source.
type Wallet interface {
	Account() common.Address
	Connected() bool
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// BetWriter submits escrow contract transactions.
type BetWriter interface {
	Address() common.Address
	CreateBet(ctx context.Context, p chain.CreateBetParams) (*types.Transaction, error)
	JoinBet(ctx context.Context, betID uint64) (*types.Transaction, error)
	Vote(ctx context.Context, betID uint64, outcome [32]byte) (*types.Transaction, error)
	Resolve(ctx context.Context, betID uint64) (*types.Transaction, error)
	ParseBetCreated(receipt *types.Receipt) (chain.BetCreatedEvent, error)
}

// Allowances reads and grants token allowances.
type Allowances interface {
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, bool, error)
	ApprovalAmount(required *big.Int) *big.Int
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	Balance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Snapshots reads bets and drops cached copies after writes.
type Snapshots interface {
	Get(ctx context.Context, betID uint64) (domain.BetSnapshot, error)
	Refresh(ctx context.Context, betID uint64) (domain.BetSnapshot, error)
	HasVoted(ctx context.Context, betID uint64, account common.Address) (bool, error)
	Invalidate(ctx context.Context, betID uint64)
}

// Publisher pins metadata documents.
type Publisher interface {
	Publish(ctx context.Context, doc any) (string, error)
}

// Deps are the collaborators shared by every flow. Index and Reporter may
// be nil.
type Deps struct {
	Wallet     Wallet
	Contract   BetWriter
	Allowances Allowances
	Snapshots  Snapshots
	Publisher  Publisher
	Index      domain.BetIndexStore
	Reporter   *Reporter
	ChainID    uint64
	Now        func() time.Time
	Logger     *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// record writes a bet index row, logging rather than failing on error.
func (d *Deps) record(ctx context.Context, e domain.BetIndexEntry) {
	if d.Index == nil {
		return
	}
	e.ChainID = d.ChainID
	if err := d.Index.Record(ctx, e); err != nil {
		d.logger().WarnContext(ctx, "bet index record failed",
			slog.String("tx_hash", e.TxHash),
			slog.String("error", err.Error()),
		)
	}
}

// Package chain talks to the AmongFriends escrow contract and ERC20 tokens
// over JSON-RPC: contract reads, signed writes, and receipt confirmation.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// Backend is the slice of ethclient.Client the gateway needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs transactions on behalf of the connected wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Transactor is what contract bindings need from the gateway.
type Transactor interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// GatewayConfig holds the settings for the chain gateway.
type GatewayConfig struct {
	RPCURL       string
	ChainID      uint64
	PollInterval time.Duration
	// GasMarginPct is added on top of the node's gas estimate.
	GasMarginPct uint64
}

// Gateway reads from and writes to one chain. Writes are serialized so that
// nonces are assigned in submission order.
type Gateway struct {
	backend      Backend
	closer       func()
	signer       TxSigner
	chainID      *big.Int
	pollInterval time.Duration
	gasMargin    uint64
	logger       *slog.Logger

	sendMu sync.Mutex
}

// Dial connects to cfg.RPCURL and checks the node serves cfg.ChainID.
// signer may be nil, in which case the gateway is read-only.
func Dial(ctx context.Context, cfg GatewayConfig, signer TxSigner, logger *slog.Logger) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: dial: %w", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain/gateway: chain id: %w", err)
	}
	if cfg.ChainID != 0 && id.Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain/gateway: rpc serves chain %s, configured %d", id, cfg.ChainID)
	}
	cfg.ChainID = id.Uint64()
	gw := NewGateway(client, cfg, signer, logger)
	gw.closer = client.Close
	return gw, nil
}

// NewGateway wraps an existing backend.
func NewGateway(backend Backend, cfg GatewayConfig, signer TxSigner, logger *slog.Logger) *Gateway {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	margin := cfg.GasMarginPct
	if margin == 0 {
		margin = 20
	}
	return &Gateway{
		backend:      backend,
		signer:       signer,
		chainID:      new(big.Int).SetUint64(cfg.ChainID),
		pollInterval: poll,
		gasMargin:    margin,
		logger:       logger.With(slog.String("component", "chain_gateway")),
	}
}

// ChainID returns the chain the gateway is bound to.
func (g *Gateway) ChainID() uint64 { return g.chainID.Uint64() }

// Connected reports whether a wallet signer is attached.
func (g *Gateway) Connected() bool { return g.signer != nil }

// Account returns the connected wallet address, or the zero address.
func (g *Gateway) Account() common.Address {
	if g.signer == nil {
		return common.Address{}
	}
	return g.signer.Address()
}

// Call executes a read-only contract call against the latest block.
func (g *Gateway) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: g.Account(), To: &to, Data: data}
	out, err := g.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Send builds, signs and submits an EIP-1559 transaction calling to with data.
// It returns once the node accepted the transaction; use WaitMined for
// confirmation.
func (g *Gateway) Send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	if g.signer == nil {
		return nil, domain.ErrNotConnected
	}
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	from := g.signer.Address()
	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: nonce: %w", err)
	}
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: gas tip: %w", err)
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: estimate gas: %w", err)
	}
	gas += gas * g.gasMargin / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := g.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("chain/gateway: %w: %w", domain.ErrSigningFailed, err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain/gateway: send: %w", err)
	}

	g.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed, nil
}

// WaitMined polls for the receipt of tx until it is mined or ctx ends. There
// is no internal timeout. A receipt with failed status is returned together
// with domain.ErrReverted.
func (g *Gateway) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, tx.Hash())
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("chain/gateway: %s: %w", tx.Hash().Hex(), domain.ErrReverted)
			}
			g.logger.DebugContext(ctx, "transaction mined",
				slog.String("tx_hash", tx.Hash().Hex()),
				slog.String("block", receipt.BlockNumber.String()),
			)
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			g.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx_hash", tx.Hash().Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the RPC connection.
func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

var _ Transactor = (*Gateway)(nil)

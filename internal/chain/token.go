package chain

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed abi/erc20.json
var erc20ABI []byte

// Token is an ERC20 binding usable with any token address.
type Token struct {
	tx  Transactor
	abi abi.ABI
}

// NewToken returns an ERC20 binding over tx.
func NewToken(tx Transactor) (*Token, error) {
	parsed, err := abi.JSON(bytes.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("chain/token: parse abi: %w", err)
	}
	return &Token{tx: tx, abi: parsed}, nil
}

// Allowance reads allowance(owner, spender) on token.
func (t *Token) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return single[*big.Int](out, "allowance")
}

// BalanceOf reads balanceOf(account) on token.
func (t *Token) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := t.call(ctx, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return single[*big.Int](out, "balanceOf")
}

// Decimals reads decimals() on token.
func (t *Token) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := t.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	return single[uint8](out, "decimals")
}

// Symbol reads symbol() on token.
func (t *Token) Symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := t.call(ctx, token, "symbol")
	if err != nil {
		return "", err
	}
	return single[string](out, "symbol")
}

// Approve submits approve(spender, amount) on token.
func (t *Token) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	data, err := t.abi.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("chain/token: pack approve: %w", err)
	}
	tx, err := t.tx.Send(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("chain/token: approve: %w", err)
	}
	return tx, nil
}

// WaitMined waits for tx through the underlying gateway.
func (t *Token) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return t.tx.WaitMined(ctx, tx)
}

func (t *Token) call(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	data, err := t.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain/token: pack %s: %w", method, err)
	}
	raw, err := t.tx.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("chain/token: %s on %s: %w", method, token.Hex(), err)
	}
	out, err := t.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain/token: unpack %s: %w", method, err)
	}
	return out, nil
}

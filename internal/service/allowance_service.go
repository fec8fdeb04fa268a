package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// maxAmountLen bounds a human amount: 78 digits of uint256 plus a sign and a
// decimal point.
const maxAmountLen = 80

// ApprovalPolicy selects how much allowance an approval grants.
type ApprovalPolicy string

const (
	// ApprovalExact approves exactly the stake, so every new stake may need a
	// fresh approval.
	ApprovalExact ApprovalPolicy = "exact"
	// ApprovalUnlimited approves 2^256-1 once per token.
	ApprovalUnlimited ApprovalPolicy = "unlimited"
)

// Valid reports whether p is a known policy.
func (p ApprovalPolicy) Valid() bool {
	return p == ApprovalExact || p == ApprovalUnlimited
}

// TokenClient is the subset of the ERC20 binding the allowance manager needs.
type TokenClient interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
}

// AllowanceService reads allowances and balances and issues approvals.
type AllowanceService struct {
	tokens TokenClient
	policy ApprovalPolicy
	logger *slog.Logger

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewAllowanceService creates an AllowanceService. An unknown policy falls
// back to ApprovalExact.
func NewAllowanceService(tokens TokenClient, policy ApprovalPolicy, logger *slog.Logger) *AllowanceService {
	if !policy.Valid() {
		policy = ApprovalExact
	}
	return &AllowanceService{
		tokens:   tokens,
		policy:   policy,
		logger:   logger.With(slog.String("component", "allowance_service")),
		decimals: make(map[common.Address]uint8),
	}
}

// Policy returns the configured approval policy.
func (s *AllowanceService) Policy() ApprovalPolicy { return s.policy }

// ReadAllowance reads allowance(owner, spender) on token. If any of the three
// is still unknown (zero), no read is made and known is false.
func (s *AllowanceService) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (amount *big.Int, known bool, err error) {
	if isZeroAddr(token) || isZeroAddr(owner) || isZeroAddr(spender) {
		return nil, false, nil
	}
	amount, err = s.tokens.Allowance(ctx, token, owner, spender)
	if err != nil {
		return nil, false, &domain.GatewayReadError{Op: "allowance", Err: err}
	}
	return amount, true, nil
}

// NeedsApproval reports whether allowance is below required. A nil allowance
// counts as zero.
func NeedsApproval(allowance, required *big.Int) bool {
	if required == nil || required.Sign() <= 0 {
		return false
	}
	if allowance == nil {
		return true
	}
	return allowance.Cmp(required) < 0
}

// ApprovalAmount is the amount an approval for required grants under the
// configured policy.
func (s *AllowanceService) ApprovalAmount(required *big.Int) *big.Int {
	if s.policy == ApprovalUnlimited {
		return new(big.Int).Set(maxUint256)
	}
	return new(big.Int).Set(required)
}

// Approve submits approve(spender, amount) on token. Calling it with an
// unresolved token or spender, or a non-positive amount, is a programming
// error and panics.
func (s *AllowanceService) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	if isZeroAddr(token) || isZeroAddr(spender) {
		panic("allowance_service: approve called with unresolved token or spender")
	}
	if amount == nil || amount.Sign() <= 0 {
		panic("allowance_service: approve called with non-positive amount")
	}
	tx, err := s.tokens.Approve(ctx, token, spender, amount)
	if err != nil {
		return nil, fmt.Errorf("allowance_service: approve: %w", err)
	}
	s.logger.InfoContext(ctx, "approval submitted",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return tx, nil
}

// Balance reads the token balance of owner.
func (s *AllowanceService) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if isZeroAddr(token) || isZeroAddr(owner) {
		return nil, domain.ErrNotConnected
	}
	bal, err := s.tokens.BalanceOf(ctx, token, owner)
	if err != nil {
		return nil, &domain.GatewayReadError{Op: "balanceOf", Err: err}
	}
	return bal, nil
}

// HasSufficientBalance reports whether balance covers required.
func HasSufficientBalance(balance, required *big.Int) bool {
	if balance == nil || required == nil {
		return false
	}
	return balance.Cmp(required) >= 0
}

// Decimals returns the token's decimals, cached per token.
func (s *AllowanceService) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	s.mu.Lock()
	d, ok := s.decimals[token]
	s.mu.Unlock()
	if ok {
		return d, nil
	}
	d, err := s.tokens.Decimals(ctx, token)
	if err != nil {
		return 0, &domain.GatewayReadError{Op: "decimals", Err: err}
	}
	s.mu.Lock()
	s.decimals[token] = d
	s.mu.Unlock()
	return d, nil
}

// ParseAmount converts a human amount such as "12.5" into smallest units.
func ParseAmount(human string, decimals uint8) (*big.Int, error) {
	human = strings.TrimSpace(human)
	if human == "" {
		return nil, domain.Invalid("stakeAmount", "required")
	}
	// decimal accepts exponents, and "1e400000000" would scale to a
	// billion-digit integer.
	if len(human) > maxAmountLen || strings.ContainsAny(human, "eE") {
		return nil, domain.Invalid("stakeAmount", "%.20q is not a plain decimal number", human)
	}
	d, err := decimal.NewFromString(human)
	if err != nil {
		return nil, domain.Invalid("stakeAmount", "%q is not a number", human)
	}
	if d.Sign() <= 0 {
		return nil, domain.Invalid("stakeAmount", "must be greater than zero")
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, domain.Invalid("stakeAmount", "more than %d decimal places", decimals)
	}
	v := scaled.BigInt()
	if v.Cmp(maxUint256) > 0 {
		return nil, domain.Invalid("stakeAmount", "exceeds the uint256 range")
	}
	return v, nil
}

// FormatAmount renders smallest units as a human amount.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func isZeroAddr(a common.Address) bool {
	return a == (common.Address{})
}

package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/chain"
	"github.com/alanyoungcy/amongfriends/internal/service"
)

// TokenReader reads balances and allowances for the connected wallet.
type TokenReader interface {
	Balance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, bool, error)
}

// TokenHandler lists the stake tokens of the active chain.
type TokenHandler struct {
	network chain.Network
	tokens  TokenReader
	wallet  WalletInfo
	logger  *slog.Logger
}

func NewTokenHandler(network chain.Network, tokens TokenReader, wallet WalletInfo, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{network: network, tokens: tokens, wallet: wallet, logger: logHandler(logger, "token")}
}

type tokenView struct {
	chain.TokenInfo
	Balance   string `json:"balance,omitempty"`
	Allowance string `json:"allowance,omitempty"`
}

// ListTokens returns the common tokens, with the wallet's balance and its
// allowance towards the escrow contract when a wallet is connected. Failed
// reads leave the figures empty rather than failing the list.
// GET /api/tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	connected := h.wallet.Connected()
	account := h.wallet.Account()

	out := make([]tokenView, 0, len(h.network.Tokens))
	for _, t := range h.network.Tokens {
		v := tokenView{TokenInfo: t}
		if connected {
			if bal, err := h.tokens.Balance(r.Context(), t.Address, account); err == nil {
				v.Balance = service.FormatAmount(bal, t.Decimals)
			} else {
				h.logger.WarnContext(r.Context(), "balance read failed",
					slog.String("token", t.Symbol),
					slog.String("error", err.Error()),
				)
			}
			if amt, known, err := h.tokens.ReadAllowance(r.Context(), t.Address, account, h.network.Contract); err == nil && known {
				v.Allowance = service.FormatAmount(amt, t.Decimals)
			}
		}
		out = append(out, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chainId":   h.network.ChainID,
		"network":   h.network.Name,
		"contract":  h.network.Contract,
		"connected": connected,
		"account":   account,
		"tokens":    out,
	})
}

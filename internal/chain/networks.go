package chain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/amongfriends/internal/domain"
)

// TokenInfo describes a stake token offered on a network.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
}

// Network is one chain the escrow contract is deployed on.
type Network struct {
	ChainID  uint64         `json:"chainId"`
	Name     string         `json:"name"`
	Testnet  bool           `json:"testnet"`
	Contract common.Address `json:"contract"`
	Tokens   []TokenInfo    `json:"tokens"`
}

func tok(addr, symbol, name string, decimals uint8) TokenInfo {
	return TokenInfo{Address: common.HexToAddress(addr), Symbol: symbol, Name: name, Decimals: decimals}
}

var defaultNetworks = []Network{
	{
		ChainID:  84532,
		Name:     "Base Sepolia",
		Testnet:  true,
		Contract: common.HexToAddress("0x227cBC1033dD32996eb62A8cb72AA57029628e9E"),
		Tokens: []TokenInfo{
			tok("0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC", "USD Coin", 6),
			tok("0x4200000000000000000000000000000000000006", "WETH", "Wrapped Ethereum", 18),
			tok("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "DAI", "Dai Stablecoin", 18),
		},
	},
	{
		ChainID:  5003,
		Name:     "Mantle Sepolia",
		Testnet:  true,
		Contract: common.HexToAddress("0x731B2e423b8c3EdAdd9dBf3a87Fc3ac43533fACf"),
		Tokens: []TokenInfo{
			tok("0x791965fCe1F70358Bc2D12b6A110d8F93cc5F2Cb", "USDC", "USD Coin", 6),
			tok("0x7A0C90050B662f4b8546486Ab2ad584bcC2a00Dd", "FRIENDS", "Friends", 18),
		},
	},
	{
		ChainID: 1,
		Name:    "Ethereum",
		Tokens: []TokenInfo{
			tok("0xA0b86a33E6441b9435B652e9c8e8b95D8C6C5c5F", "USDC", "USD Coin", 6),
			tok("0xdAC17F958D2ee523a2206206994597C13D831ec7", "USDT", "Tether USD", 6),
		},
	},
	{
		ChainID: 137,
		Name:    "Polygon",
		Tokens: []TokenInfo{
			tok("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", "USDC", "USD Coin", 6),
			tok("0xc2132D05D31c914a87C6611C10748AEb04B58e8F", "USDT", "Tether USD", 6),
		},
	},
	{
		ChainID: 42161,
		Name:    "Arbitrum One",
	},
}

// Registry resolves the contract deployment and token list per chain.
type Registry struct {
	networks map[uint64]Network
}

// NewRegistry returns the built-in networks with contract address overrides
// applied (chain ID -> hex address). Mainnets ship without an address and
// are only usable once overridden. When testnets is false, testnet entries
// are dropped.
func NewRegistry(overrides map[uint64]string, testnets bool) (*Registry, error) {
	r := &Registry{networks: make(map[uint64]Network, len(defaultNetworks))}
	for _, n := range defaultNetworks {
		if n.Testnet && !testnets {
			continue
		}
		n.Tokens = append([]TokenInfo(nil), n.Tokens...)
		r.networks[n.ChainID] = n
	}
	for id, addr := range overrides {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain/networks: contract override for chain %d is not an address: %q", id, addr)
		}
		n, ok := r.networks[id]
		if !ok {
			n = Network{ChainID: id, Name: fmt.Sprintf("chain-%d", id)}
		}
		n.Contract = common.HexToAddress(addr)
		r.networks[id] = n
	}
	return r, nil
}

// Lookup returns the deployment for chainID. A chain without a contract
// address is reported as domain.ErrUnknownChain.
func (r *Registry) Lookup(chainID uint64) (Network, error) {
	n, ok := r.networks[chainID]
	if !ok || n.Contract == (common.Address{}) {
		return Network{}, fmt.Errorf("chain/networks: chain %d: %w", chainID, domain.ErrUnknownChain)
	}
	return n, nil
}

// Token returns the listed token at addr on chainID.
func (r *Registry) Token(chainID uint64, addr common.Address) (TokenInfo, bool) {
	for _, t := range r.networks[chainID].Tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// Supported lists chain IDs that have a contract address, ascending.
func (r *Registry) Supported() []uint64 {
	ids := make([]uint64, 0, len(r.networks))
	for id, n := range r.networks {
		if n.Contract != (common.Address{}) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

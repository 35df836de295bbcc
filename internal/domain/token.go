package domain

import "github.com/shopspring/decimal"

// TokenInfo describes one fungible token deployed through the platform's
// token factory, as surfaced by the explorer endpoint.
type TokenInfo struct {
	Address     string
	Name        string
	Symbol      string
	TotalSupply decimal.Decimal // whole tokens, converted from wei
}

// TokenMetadata is the off-chain metadata document referenced by a
// collection's tokenURI.
type TokenMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

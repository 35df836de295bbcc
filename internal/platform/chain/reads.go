package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
)

// Minimal ABIs for the read-only contract calls the platform needs. The
// collection ABI covers ERC-721 metadata; the token ABI covers ERC-20 facts;
// the factory ABI exposes the deployed-token registry.
const (
	collectionABIJSON = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
		{"name":"tokenURI","type":"function","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"string"}]}
	]`
	tokenABIJSON = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
		{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
	]`
	factoryABIJSON = `[
		{"name":"getDeployedTokens","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]}
	]`
)

var (
	collectionABI = mustABI(collectionABIJSON)
	tokenABI      = mustABI(tokenABIJSON)
	factoryABI    = mustABI(factoryABIJSON)

	// weiPerToken converts 18-decimal on-chain supplies to whole tokens.
	weiPerToken = decimal.New(1, 18)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// call performs a read-only contract call and unpacks the outputs.
func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &contract, Data: input}

	var raw []byte
	err = c.withRetry(ctx, "call:"+method, func(callCtx context.Context) error {
		out, err := c.eth.CallContract(callCtx, msg, nil)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	outputs, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return outputs, nil
}

// CollectionFacts returns the name, symbol, and tokenURI for one asset of a
// collection contract.
func (c *Client) CollectionFacts(ctx context.Context, assetAddress string, assetID *big.Int) (name, symbol, tokenURI string, err error) {
	contract := common.HexToAddress(assetAddress)

	if out, err := c.call(ctx, contract, collectionABI, "name"); err != nil {
		return "", "", "", err
	} else if len(out) == 1 {
		name, _ = out[0].(string)
	}

	if out, err := c.call(ctx, contract, collectionABI, "symbol"); err != nil {
		return "", "", "", err
	} else if len(out) == 1 {
		symbol, _ = out[0].(string)
	}

	if out, err := c.call(ctx, contract, collectionABI, "tokenURI", assetID); err != nil {
		return "", "", "", err
	} else if len(out) == 1 {
		tokenURI, _ = out[0].(string)
	}

	return name, symbol, tokenURI, nil
}

// TokenFacts returns the name, symbol, and whole-token supply of an ERC-20
// token contract.
func (c *Client) TokenFacts(ctx context.Context, tokenAddress string) (domain.TokenInfo, error) {
	contract := common.HexToAddress(tokenAddress)
	info := domain.TokenInfo{Address: strings.ToLower(tokenAddress)}

	if out, err := c.call(ctx, contract, tokenABI, "name"); err != nil {
		return domain.TokenInfo{}, err
	} else if len(out) == 1 {
		info.Name, _ = out[0].(string)
	}

	if out, err := c.call(ctx, contract, tokenABI, "symbol"); err != nil {
		return domain.TokenInfo{}, err
	} else if len(out) == 1 {
		info.Symbol, _ = out[0].(string)
	}

	out, err := c.call(ctx, contract, tokenABI, "totalSupply")
	if err != nil {
		return domain.TokenInfo{}, err
	}
	if len(out) == 1 {
		if supply, ok := out[0].(*big.Int); ok {
			info.TotalSupply = decimal.NewFromBigInt(supply, 0).Div(weiPerToken)
		}
	}

	return info, nil
}

// DeployedTokens returns the addresses of every token launched through the
// platform's factory contract.
func (c *Client) DeployedTokens(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, c.factory, factoryABI, "getDeployedTokens")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: getDeployedTokens: unexpected output arity %d", len(out))
	}

	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("chain: getDeployedTokens: unexpected output type %T", out[0])
	}

	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, addrHex(a))
	}
	return result, nil
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

type fakeTokenReader struct {
	deployed []string
	facts    map[string]domain.TokenInfo
	broken   map[string]bool
}

func (f *fakeTokenReader) DeployedTokens(_ context.Context) ([]string, error) {
	out := make([]string, len(f.deployed))
	copy(out, f.deployed)
	return out, nil
}

func (f *fakeTokenReader) TokenFacts(_ context.Context, addr string) (domain.TokenInfo, error) {
	if f.broken[addr] {
		return domain.TokenInfo{}, errors.New("execution reverted")
	}
	info, ok := f.facts[addr]
	if !ok {
		return domain.TokenInfo{}, errors.New("no such token")
	}
	return info, nil
}

func TestListTokens_NewestFirstWithBlacklist(t *testing.T) {
	reader := &fakeTokenReader{
		deployed: []string{"0xaaa", "0xbbb", "0xccc"},
		facts: map[string]domain.TokenInfo{
			"0xaaa": {Address: "0xaaa", Name: "Alpha", Symbol: "ALP", TotalSupply: decimal.NewFromInt(1000)},
			"0xbbb": {Address: "0xbbb", Name: "Beta", Symbol: "BET", TotalSupply: decimal.NewFromInt(2000)},
			"0xccc": {Address: "0xccc", Name: "Gamma", Symbol: "GAM", TotalSupply: decimal.NewFromInt(3000)},
		},
	}

	svc := NewTokenService(reader, []string{"0xBBB"}, slog.Default())

	tokens, err := svc.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "Gamma", tokens[0].Name, "latest deployment listed first")
	assert.Equal(t, "Alpha", tokens[1].Name)
}

func TestListTokens_SkipsUnreadableTokens(t *testing.T) {
	reader := &fakeTokenReader{
		deployed: []string{"0xaaa", "0xbad"},
		facts: map[string]domain.TokenInfo{
			"0xaaa": {Address: "0xaaa", Name: "Alpha", Symbol: "ALP"},
		},
		broken: map[string]bool{"0xbad": true},
	}

	svc := NewTokenService(reader, nil, slog.Default())

	tokens, err := svc.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "Alpha", tokens[0].Name)
}

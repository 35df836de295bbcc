package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/fanforge/marketd/internal/domain"
)

// TokenReader reads the token factory registry and per-token facts from the
// chain.
type TokenReader interface {
	DeployedTokens(ctx context.Context) ([]string, error)
	TokenFacts(ctx context.Context, tokenAddress string) (domain.TokenInfo, error)
}

// TokenService backs the token explorer endpoint: every token launched
// through the platform factory, minus a configured blacklist, newest first.
type TokenService struct {
	chain     TokenReader
	blacklist map[string]struct{}
	logger    *slog.Logger
}

// NewTokenService creates a TokenService. Blacklist entries are matched
// case-insensitively against deployed token addresses.
func NewTokenService(chain TokenReader, blacklist []string, logger *slog.Logger) *TokenService {
	denied := make(map[string]struct{}, len(blacklist))
	for _, addr := range blacklist {
		denied[strings.ToLower(strings.TrimSpace(addr))] = struct{}{}
	}
	return &TokenService{
		chain:     chain,
		blacklist: denied,
		logger:    logger.With(slog.String("component", "token_service")),
	}
}

// ListTokens returns facts for every visible deployed token. The factory
// registry is append-only, so reversing it yields newest-first ordering. A
// token whose facts cannot be read is skipped rather than failing the list.
func (s *TokenService) ListTokens(ctx context.Context) ([]domain.TokenInfo, error) {
	addrs, err := s.chain.DeployedTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("token_service: deployed tokens: %w", err)
	}
	slices.Reverse(addrs)

	tokens := make([]domain.TokenInfo, 0, len(addrs))
	for _, addr := range addrs {
		if _, hidden := s.blacklist[strings.ToLower(addr)]; hidden {
			continue
		}
		info, err := s.chain.TokenFacts(ctx, addr)
		if err != nil {
			s.logger.WarnContext(ctx, "token facts unavailable",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
			continue
		}
		tokens = append(tokens, info)
	}
	return tokens, nil
}

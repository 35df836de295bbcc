package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// Marketplace event topic hashes, keccak256 of the canonical Solidity
// signatures.
var (
	topicItemListed = crypto.Keccak256Hash(
		[]byte("ItemListed(address,address,uint256,uint256)"),
	)
	topicItemSold = crypto.Keccak256Hash(
		[]byte("ItemSold(address,address,uint256,uint256)"),
	)
	topicListingCancelled = crypto.Keccak256Hash(
		[]byte("ListingCancelled(address,address,uint256)"),
	)
)

// kindTopic maps an event kind to its topic0 hash.
func kindTopic(kind domain.EventKind) (common.Hash, error) {
	switch kind {
	case domain.EventKindListed:
		return topicItemListed, nil
	case domain.EventKindSold:
		return topicItemSold, nil
	case domain.EventKindCancelled:
		return topicListingCancelled, nil
	default:
		return common.Hash{}, fmt.Errorf("chain: unknown event kind %q", kind)
	}
}

// FilterListingEvents fetches marketplace logs of one kind in the inclusive
// block range [fromBlock, toBlock] and decodes them into ListingEvents in
// (block, log index) order. Logs that fail topic validation are counted and
// skipped at this boundary so nothing malformed reaches the reducer.
func (c *Client) FilterListingEvents(ctx context.Context, kind domain.EventKind, fromBlock, toBlock uint64) ([]domain.ListingEvent, error) {
	topic, err := kindTopic(kind)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.marketplace},
		Topics:    [][]common.Hash{{topic}},
	}

	var logs []types.Log
	err = c.withRetry(ctx, "getLogs", func(callCtx context.Context) error {
		out, err := c.eth.FilterLogs(callCtx, query)
		if err != nil {
			return err
		}
		logs = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]domain.ListingEvent, 0, len(logs))
	for i := range logs {
		ev, err := decodeListingLog(kind, &logs[i])
		if err != nil {
			metrics.EventsMalformed.Inc()
			c.logger.WarnContext(ctx, "dropping undecodable marketplace log",
				slog.String("kind", string(kind)),
				slog.Uint64("block", logs[i].BlockNumber),
				slog.Uint64("log_index", uint64(logs[i].Index)),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
	}

	// FilterLogs already returns ordered results per node, but the total
	// order is an invariant downstream, so it is enforced here.
	sort.Slice(events, func(a, b int) bool {
		return events[a].Coord.Before(events[b].Coord)
	})

	return events, nil
}

// decodeListingLog validates a raw log's shape and converts it into the
// closed ListingEvent variant.
//
// Topic layout, all three events: topics[1] = seller or buyer,
// topics[2] = asset contract, topics[3] = token id. ItemListed and ItemSold
// additionally carry the price as the single non-indexed data word.
func decodeListingLog(kind domain.EventKind, lg *types.Log) (domain.ListingEvent, error) {
	if len(lg.Topics) != 4 {
		return domain.ListingEvent{}, domain.Inconsistencyf(
			"expected 4 topics, got %d", len(lg.Topics))
	}

	actor := common.BytesToAddress(lg.Topics[1].Bytes())
	asset := common.BytesToAddress(lg.Topics[2].Bytes())
	tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())

	ev := domain.ListingEvent{
		Kind: kind,
		Key:  domain.NewListingKey(asset.Hex(), tokenID),
		Coord: domain.EventCoord{
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
		},
		TxHash: lg.TxHash.Hex(),
	}

	switch kind {
	case domain.EventKindListed, domain.EventKindSold:
		if len(lg.Data) != 32 {
			return domain.ListingEvent{}, domain.Inconsistencyf(
				"expected 32-byte data word, got %d bytes", len(lg.Data))
		}
		price := new(big.Int).SetBytes(lg.Data)
		if kind == domain.EventKindListed {
			ev.Seller = addrHex(actor)
			ev.Price = price
		} else {
			ev.Buyer = addrHex(actor)
		}
	case domain.EventKindCancelled:
		ev.Seller = addrHex(actor)
	}

	return ev, nil
}

// addrHex renders an address in canonical lower-case hex form.
func addrHex(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}

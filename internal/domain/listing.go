package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// ListingStatus represents the lifecycle state of a listing instance.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// EventKind identifies one of the three marketplace contract events.
type EventKind string

const (
	EventKindListed    EventKind = "listed"
	EventKindSold      EventKind = "sold"
	EventKindCancelled EventKind = "cancelled"
)

// EventKinds enumerates all marketplace event kinds in a stable order.
var EventKinds = []EventKind{EventKindListed, EventKindSold, EventKindCancelled}

// ListingKey identifies one sellable unit: an asset contract plus a token id.
// AssetAddress is a lower-case 0x hex address; AssetID is the token id in
// decimal form so arbitrarily large uint256 ids survive map keys and JSON.
type ListingKey struct {
	AssetAddress string
	AssetID      string
}

// NewListingKey builds a canonical ListingKey from an address and token id.
func NewListingKey(assetAddress string, assetID *big.Int) ListingKey {
	return ListingKey{
		AssetAddress: strings.ToLower(assetAddress),
		AssetID:      assetID.String(),
	}
}

// String renders the key as "address:id" for logging and cache keys.
func (k ListingKey) String() string {
	return k.AssetAddress + ":" + k.AssetID
}

// EventCoord is the position of an event in the chain's total order.
// Events are ordered by (BlockNumber, LogIndex) ascending; this ordering is
// the only legitimate processing order.
type EventCoord struct {
	BlockNumber uint64
	LogIndex    uint
}

// Before reports whether c is strictly earlier than other in the total order.
func (c EventCoord) Before(other EventCoord) bool {
	if c.BlockNumber != other.BlockNumber {
		return c.BlockNumber < other.BlockNumber
	}
	return c.LogIndex < other.LogIndex
}

// String renders the coordinate as "block/logIndex".
func (c EventCoord) String() string {
	return fmt.Sprintf("%d/%d", c.BlockNumber, c.LogIndex)
}

// ListingEvent is one immutable fact observed from the marketplace contract.
// It is a closed tagged variant: Kind selects which of the optional fields
// are meaningful. Seller and Price are set only for Listed events; Buyer only
// for Sold events.
type ListingEvent struct {
	Kind   EventKind
	Key    ListingKey
	Seller string   // listed
	Buyer  string   // sold
	Price  *big.Int // listed, in wei
	Coord  EventCoord
	TxHash string
}

// Listing is the derived read-model entity for one listing instance.
// OriginBlock/OriginLogIndex pin the Listed event that created this
// incarnation: the same key can be listed, closed and re-listed many times,
// and a terminal event must only ever close the instance it belongs to.
type Listing struct {
	Key            ListingKey
	Seller         string
	Price          *big.Int
	Status         ListingStatus
	OriginBlock    uint64
	OriginLogIndex uint
	TxHash         string
}

// Origin returns the coordinate of the Listed event that opened this instance.
func (l Listing) Origin() EventCoord {
	return EventCoord{BlockNumber: l.OriginBlock, LogIndex: l.OriginLogIndex}
}

// Clone returns a deep copy; Price is the only pointer field.
func (l Listing) Clone() Listing {
	out := l
	if l.Price != nil {
		out.Price = new(big.Int).Set(l.Price)
	}
	return out
}

// ListingView is a Listing enriched with off-chain display metadata for API
// responses. Enrichment fields stay empty when the metadata collaborator is
// unreachable; the listing itself is still served.
type ListingView struct {
	Listing
	DisplayName   string
	DisplaySymbol string
	ImageURL      string
}

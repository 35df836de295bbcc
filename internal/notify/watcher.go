package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/ingest"
)

// marketSignal mirrors the JSON envelope the ingest pipeline publishes on the
// listings channel.
type marketSignal struct {
	Kind         string `json:"kind"`
	AssetAddress string `json:"assetAddress"`
	AssetID      string `json:"assetId"`
	Seller       string `json:"seller"`
	Buyer        string `json:"buyer"`
	PriceWei     string `json:"priceWei"`
	BlockNumber  uint64 `json:"blockNumber"`
	TxHash       string `json:"txHash"`
}

// Watcher consumes listing events from the signal bus and turns them into
// operator notifications.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher bridging the signal bus to the notifier.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_watcher")),
	}
}

// Run subscribes to the listings channel and dispatches a notification per
// event until the context is cancelled. Delivery failures are logged and do
// not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	msgCh, err := w.bus.Subscribe(ctx, ingest.ListingsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", ingest.ListingsChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgCh:
			if !ok {
				return nil
			}
			w.handle(ctx, data)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, data []byte) {
	var sig marketSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		w.logger.WarnContext(ctx, "undecodable signal",
			slog.String("error", err.Error()),
		)
		return
	}

	event, title, message := describe(sig)
	if event == "" {
		return
	}
	if err := w.notifier.Notify(ctx, event, title, message); err != nil {
		w.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// describe maps a listing signal to a notification event, title and body.
func describe(sig marketSignal) (event, title, message string) {
	asset := fmt.Sprintf("%s #%s", shortAddress(sig.AssetAddress), sig.AssetID)
	switch domain.EventKind(sig.Kind) {
	case domain.EventKindListed:
		return EventItemListed,
			"Item Listed",
			fmt.Sprintf("%s listed by %s for %s (block %d)",
				asset, shortAddress(sig.Seller), formatPrice(sig.PriceWei), sig.BlockNumber)
	case domain.EventKindSold:
		return EventItemSold,
			"Item Sold",
			fmt.Sprintf("%s sold to %s for %s (block %d, tx %s)",
				asset, shortAddress(sig.Buyer), formatPrice(sig.PriceWei), sig.BlockNumber, sig.TxHash)
	case domain.EventKindCancelled:
		return EventItemCancelled,
			"Listing Cancelled",
			fmt.Sprintf("%s delisted by %s (block %d)",
				asset, shortAddress(sig.Seller), sig.BlockNumber)
	default:
		return "", "", ""
	}
}

// formatPrice renders a wei amount as a whole-token value.
func formatPrice(wei string) string {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return wei + " wei"
	}
	return d.Shift(-18).String() + " tokens"
}

// shortAddress abbreviates a hex address for display: 0x1234...abcd.
func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

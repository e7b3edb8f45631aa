package horizon

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

// OrderBookLevel is one aggregated price level.
type OrderBookLevel struct {
	PriceR struct {
		N int64 `json:"n"`
		D int64 `json:"d"`
	} `json:"price_r"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// OrderBook is the Horizon order book summary for base/counter.
type OrderBook struct {
	Bids    []OrderBookLevel `json:"bids"`
	Asks    []OrderBookLevel `json:"asks"`
	Base    Asset            `json:"base"`
	Counter Asset            `json:"counter"`
}

// OrderBook fetches up to limit levels of the base/counter book.
func (c *Client) OrderBook(ctx context.Context, base, counter corridor.Asset, limit int) (OrderBook, error) {
	q := url.Values{}
	setAssetParams(q, "selling", base)
	setAssetParams(q, "buying", counter)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var book OrderBook
	if err := c.getJSON(ctx, "/order_book", q, &book); err != nil {
		return OrderBook{}, fmt.Errorf("order book %s/%s: %w", base, counter, err)
	}
	return book, nil
}

// BidDepth returns how much of the destination asset resting offers are
// willing to give for the source asset, summed over up to levels price levels.
// The amount is in destination units.
func (c *Client) BidDepth(ctx context.Context, pair corridor.AssetPair, levels int) (decimal.Decimal, error) {
	if pair.SameAsset() {
		return decimal.Zero, nil
	}
	book, err := c.OrderBook(ctx, pair.Source, pair.Destination, levels)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i, level := range book.Bids {
		if levels > 0 && i >= levels {
			break
		}
		amount, err := decimal.NewFromString(level.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("order book %s: bid %d amount %q: %w", pair.CorridorKey(), i, level.Amount, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

func setAssetParams(q url.Values, prefix string, a corridor.Asset) {
	if a.Native {
		q.Set(prefix+"_asset_type", "native")
		return
	}
	kind := "credit_alphanum4"
	if len(a.Code) > 4 {
		kind = "credit_alphanum12"
	}
	q.Set(prefix+"_asset_type", kind)
	q.Set(prefix+"_asset_code", a.Code)
	q.Set(prefix+"_asset_issuer", a.Issuer)
}

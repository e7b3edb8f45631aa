package aggregation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/corridor"
)

// PriceTable maps an asset (CODE:ISSUER or XLM:native) to its USD price.
type PriceTable map[string]decimal.Decimal

// ParsePriceTable builds a table from configuration strings.
func ParsePriceTable(raw map[string]string) (PriceTable, error) {
	table := make(PriceTable, len(raw))
	for key, value := range raw {
		asset, err := corridor.ParseAsset(normaliseAssetKey(key))
		if err != nil {
			return nil, fmt.Errorf("usd_prices %q: %w", key, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("usd_prices %q: %w", key, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("usd_prices %q: negative price", key)
		}
		table[asset.String()] = price
	}
	return table, nil
}

// viper lower-cases map keys; codes and issuers are restored to upper case.
func normaliseAssetKey(key string) string {
	code, issuer, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return key
	}
	if strings.EqualFold(issuer, "native") {
		issuer = "native"
	} else {
		issuer = strings.ToUpper(issuer)
	}
	return strings.ToUpper(code) + ":" + issuer
}

// USDValue converts amount of asset into USD.
func (p PriceTable) USDValue(asset corridor.Asset, amount decimal.Decimal) (decimal.Decimal, bool) {
	price, ok := p[asset.String()]
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(price), true
}

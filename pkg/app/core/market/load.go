package market

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Defaults returns the two symbols the gateway serves when no markets file is configured.
func Defaults() []*Market {
	return []*Market{
		{
			Symbol:      "DERIV:XBTUSD",
			BaseAsset:   "XBT",
			QuoteAsset:  "USD",
			TickSize:    decimal.RequireFromString("0.5"),
			LotSize:     decimal.RequireFromString("0.001"),
			MinPrice:    decimal.RequireFromString("1"),
			MaxPrice:    decimal.RequireFromString("1000000"),
			MaxQuantity: decimal.RequireFromString("1000"),
		},
		{
			Symbol:      "DERIV:ETHUSD",
			BaseAsset:   "ETH",
			QuoteAsset:  "USD",
			TickSize:    decimal.RequireFromString("0.01"),
			LotSize:     decimal.RequireFromString("0.01"),
			MinPrice:    decimal.RequireFromString("0.01"),
			MaxPrice:    decimal.RequireFromString("100000"),
			MaxQuantity: decimal.RequireFromString("10000"),
		},
	}
}

// LoadFile reads a JSON array of markets, e.g.
//
//	[{"symbol":"DERIV:XBTUSD","baseAsset":"XBT","quoteAsset":"USD",
//	  "tickSize":"0.5","lotSize":"0.001","minPrice":"1","maxPrice":"1000000"}]
func LoadFile(path string) ([]*Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}
	var markets []*Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("parse markets file %s: %w", path, err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("markets file %s lists no markets", path)
	}
	return markets, nil
}

// LoadRegistry builds the registry from path, or from Defaults when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(Defaults()...)
	}
	markets, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(markets...)
}

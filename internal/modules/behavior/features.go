// Package behavior classifies a single trade into a behavioral label
// (normal, panic, fomo, overtrade, revenge) and maps it onto a 0-100 risk
// score.
package behavior

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FeatureNames lists model inputs in the order the coefficient columns use.
var FeatureNames = []string{
	"actionType",
	"tradeSizePct",
	"marketChangePct_1h",
	"marketChangePct_24h",
	"drawdownPct",
	"timeSinceDropMin",
	"tradesLast24h",
}

var (
	// ErrMissingTradeSize is returned when neither tradeSizePct nor both
	// tradeAmountUSD and portfolioValueUSD are provided.
	ErrMissingTradeSize = errors.New("tradeSizePct or tradeAmountUSD and portfolioValueUSD are required")
	// ErrInvalidFeature is returned for non-finite feature values.
	ErrInvalidFeature = errors.New("invalid feature value")
)

// ActionType is BUY (0) or SELL (1).
type ActionType int

const (
	ActionBuy  ActionType = 0
	ActionSell ActionType = 1
)

// String returns BUY or SELL.
func (a ActionType) String() string {
	if a == ActionSell {
		return "SELL"
	}
	return "BUY"
}

// UnmarshalJSON accepts "BUY"/"SELL" in any case or the numbers 0 and 1.
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "BUY", "0":
			*a = ActionBuy
		case "SELL", "1":
			*a = ActionSell
		default:
			return fmt.Errorf("actionType must be BUY or SELL, got %q", s)
		}
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("actionType must be BUY, SELL, 0 or 1")
	}
	switch n {
	case 0:
		*a = ActionBuy
	case 1:
		*a = ActionSell
	default:
		return fmt.Errorf("actionType must be 0 or 1, got %v", n)
	}
	return nil
}

// MarshalJSON writes the symbolic form.
func (a ActionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Features describes one trade and its market context.
type Features struct {
	ActionType         ActionType `json:"actionType"`
	TradeSizePct       *float64   `json:"tradeSizePct,omitempty"`
	TradeAmountUSD     *float64   `json:"tradeAmountUSD,omitempty"`
	PortfolioValueUSD  *float64   `json:"portfolioValueUSD,omitempty"`
	MarketChangePct1h  float64    `json:"marketChangePct_1h"`
	MarketChangePct24h float64    `json:"marketChangePct_24h"`
	DrawdownPct        float64    `json:"drawdownPct"`
	TimeSinceDropMin   float64    `json:"timeSinceDropMin"`
	TradesLast24h      float64    `json:"tradesLast24h"`
}

// TradeSize returns tradeSizePct, deriving it from the USD amounts when it
// was not given directly.
func (f Features) TradeSize() (float64, error) {
	if f.TradeSizePct != nil {
		return *f.TradeSizePct, nil
	}
	if f.TradeAmountUSD == nil || f.PortfolioValueUSD == nil {
		return 0, ErrMissingTradeSize
	}
	if *f.PortfolioValueUSD <= 0 {
		return 0, fmt.Errorf("%w: portfolioValueUSD must be positive", ErrInvalidFeature)
	}
	return *f.TradeAmountUSD / *f.PortfolioValueUSD, nil
}

// Vector returns the features in FeatureNames order.
func (f Features) Vector() ([]float64, error) {
	size, err := f.TradeSize()
	if err != nil {
		return nil, err
	}

	v := []float64{
		float64(f.ActionType),
		size,
		f.MarketChangePct1h,
		f.MarketChangePct24h,
		f.DrawdownPct,
		f.TimeSinceDropMin,
		f.TradesLast24h,
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFeature, FeatureNames[i])
		}
	}
	return v, nil
}

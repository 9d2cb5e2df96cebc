package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// BybitConfig holds the configuration for the Bybit position feed.
type BybitConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool   // demo trading environment (paper trading)
	Category  string // defaults to "linear"
}

// BybitBroker reads futures positions from the Bybit v5 API.
type BybitBroker struct {
	httpClient *bybit_api.Client
	category   string
}

// NewBybitBroker creates a Bybit-backed position feed.
func NewBybitBroker(cfg BybitConfig) (*BybitBroker, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("bybit broker requires API key and secret")
	}

	var baseURL string
	if cfg.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	category := cfg.Category
	if category == "" {
		category = "linear"
	}

	return &BybitBroker{
		httpClient: bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:   category,
	}, nil
}

// GetPositions retrieves the full current position set.
func (b *BybitBroker) GetPositions(ctx context.Context) ([]Position, error) {
	params := map[string]interface{}{
		"category":   b.category,
		"settleCoin": "USDT",
	}

	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	positions, err := parsePositionsResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse positions response: %w", err)
	}

	return positions, nil
}

func parsePositionsResponse(response interface{}) ([]Position, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			EntryPrice    string `json:"entryPrice"`
			MarkPrice     string `json:"markPrice"`
			LiqPrice      string `json:"liqPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	}

	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	var positions []Position
	for _, posData := range positionResult.List {
		size := parseFloat64(posData.Size)
		if size == 0 {
			// Bybit reports flat one-way-mode slots with size "0".
			continue
		}

		entry := parseFloat64(posData.EntryPrice)
		if entry == 0 {
			entry = parseFloat64(posData.AvgPrice)
		}

		positions = append(positions, Position{
			Symbol:           posData.Symbol,
			Side:             posData.Side,
			Quantity:         size,
			EntryPrice:       entry,
			CurrentPrice:     parseFloat64(posData.MarkPrice),
			LiquidationPrice: parseFloat64(posData.LiqPrice),
			UnrealizedPnl:    parseFloat64(posData.UnrealisedPnl),
			Leverage:         parseFloat64(posData.Leverage),
		})
	}

	return positions, nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

package quote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/papertrade/internal/models"
)

// AlpacaProvider resolves names through the Alpaca trading API and prices
// through the latest trade from the market data API.
type AlpacaProvider struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

// NewAlpacaProvider creates a provider. Empty URLs select Alpaca's defaults.
func NewAlpacaProvider(apiKey, apiSecret, baseURL, dataURL string, timeout time.Duration) *AlpacaProvider {
	httpClient := &http.Client{Timeout: timeout}
	tradingOpts := alpaca.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}
	dataOpts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: httpClient,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}
	return &AlpacaProvider{
		trading: alpaca.NewClient(tradingOpts),
		data:    marketdata.NewClient(dataOpts),
	}
}

func (p *AlpacaProvider) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = models.NormalizeSymbol(symbol)
	if err := ctx.Err(); err != nil {
		return nil, transient(symbol, err)
	}

	asset, err := p.trading.GetAsset(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, unknownSymbol(symbol)
		}
		return nil, transient(symbol, err)
	}
	if !asset.Tradable {
		return nil, unknownSymbol(symbol)
	}

	if err := ctx.Err(); err != nil {
		return nil, transient(symbol, err)
	}
	trade, err := p.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, transient(symbol, err)
	}
	if trade == nil {
		return nil, unknownSymbol(symbol)
	}

	return &models.Quote{
		Symbol: asset.Symbol,
		Name:   asset.Name,
		Price:  decimal.NewFromFloat(trade.Price),
	}, nil
}

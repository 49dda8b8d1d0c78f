package market

import (
	"context"
	"fmt"
	"strings"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
)

// KitePriceSource reads last traded prices from Zerodha Kite Connect.
type KitePriceSource struct {
	client   *kiteconnect.Client
	exchange string
}

// NewKitePriceSource creates a Kite-backed price source.
func NewKitePriceSource(cfg config.KiteConfig, exchange string) (*KitePriceSource, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, apperrors.NewValidationError("price.kite", "", "api_key and access_token are required")
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)

	if exchange == "" {
		exchange = "NSE"
	}

	return &KitePriceSource{client: client, exchange: strings.ToUpper(exchange)}, nil
}

// Name returns the source name.
func (k *KitePriceSource) Name() string {
	return "kite"
}

// Price fetches the last traded price of ticker.
func (k *KitePriceSource) Price(ctx context.Context, ticker string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	instrument := k.instrument(ticker)
	quotes, err := k.client.GetQuote(instrument)
	if err != nil {
		return 0, apperrors.NewPriceError(k.Name(), ticker, "failed to get quote", err)
	}

	q, ok := quotes[instrument]
	if !ok {
		return 0, apperrors.NewPriceError(k.Name(), ticker, fmt.Sprintf("quote not found for %s", instrument), apperrors.ErrPriceUnavailable)
	}
	return q.LastPrice, nil
}

// instrument maps RELIANCE to NSE:RELIANCE. Qualified names pass through.
func (k *KitePriceSource) instrument(ticker string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if strings.Contains(ticker, ":") {
		return ticker
	}
	return k.exchange + ":" + ticker
}

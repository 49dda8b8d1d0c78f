package market

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/resilience"
)

func TestStaticPriceSource(t *testing.T) {
	src := NewStaticPriceSource(map[string]float64{"reliance": 2500})
	ctx := context.Background()

	p, err := src.Price(ctx, "RELIANCE")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, p)

	src.Set("TCS", 3900)
	p, err = src.Price(ctx, "tcs")
	require.NoError(t, err)
	assert.Equal(t, 3900.0, p)

	src.Remove("TCS")
	_, err = src.Price(ctx, "TCS")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)

	var pe *apperrors.PriceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "TCS", pe.Ticker)
}

func TestFetchPrice_RejectsInvalid(t *testing.T) {
	for _, bad := range []float64{0, -1, math.Inf(1), math.NaN()} {
		src := NewStaticPriceSource(map[string]float64{"X": bad})
		_, err := fetchPrice(context.Background(), src, "X")
		assert.ErrorIs(t, err, apperrors.ErrInvalidPrice, "price %v", bad)
	}
}

func TestFallbackSource(t *testing.T) {
	inner := NewStaticPriceSource(map[string]float64{"AAA": 50, "ZERO": 0})
	src := NewFallbackSource(inner, 100, zerolog.Nop())
	ctx := context.Background()

	p, err := src.Price(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, 50.0, p)

	p, err = src.Price(ctx, "MISSING")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)

	p, err = src.Price(ctx, "ZERO")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p)
}

func TestRateLimitedSource_HonoursContext(t *testing.T) {
	inner := NewStaticPriceSource(map[string]float64{"AAA": 10})
	src := NewRateLimitedSource(inner, 0.001, 1)

	_, err := src.Price(context.Background(), "AAA")
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Price(ctx, "AAA")
	assert.Error(t, err)
}

func TestNewPriceSource(t *testing.T) {
	cfg := config.Default().Price
	cfg.Static = map[string]float64{"INFY": 1500}

	src, err := NewPriceSource(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())

	p, err := src.Price(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, p)

	cfg.Provider = "kite"
	_, err = NewPriceSource(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid, "kite without credentials")

	cfg.Kite = config.KiteConfig{APIKey: "key", AccessToken: "token"}
	src, err = NewPriceSource(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "kite", src.Name())
}

func TestKiteInstrument(t *testing.T) {
	k, err := NewKitePriceSource(config.KiteConfig{APIKey: "k", AccessToken: "t"}, "")
	require.NoError(t, err)

	assert.Equal(t, "NSE:RELIANCE", k.instrument(" reliance "))
	assert.Equal(t, "BSE:TCS", k.instrument("bse:tcs"))
}

type downSource struct {
	calls int
}

func (d *downSource) Name() string { return "down" }

func (d *downSource) Price(ctx context.Context, ticker string) (float64, error) {
	d.calls++
	return 0, apperrors.NewPriceError("down", ticker, "connection refused", errors.New("dial tcp"))
}

func TestBreakerSource_FailsFastWhenOpen(t *testing.T) {
	inner := &downSource{}
	src := NewBreakerSource(inner, resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := src.Price(ctx, "AAA")
		assert.Error(t, err)
	}

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, resilience.CircuitOpen, src.Breaker().State())

	_, err := src.Price(ctx, "AAA")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestBreakerSource_UnknownTickerDoesNotTrip(t *testing.T) {
	inner := NewStaticPriceSource(map[string]float64{"AAA": 10})
	src := NewBreakerSource(inner, resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	ctx := context.Background()

	_, err := src.Price(ctx, "MISSING")
	assert.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	assert.Equal(t, resilience.CircuitClosed, src.Breaker().State())

	p, err := src.Price(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, 10.0, p)
}

type mixedSource struct {
	down downSource
}

func (m *mixedSource) Name() string { return "mixed" }

func (m *mixedSource) Price(ctx context.Context, ticker string) (float64, error) {
	if ticker == "DOWN" {
		return m.down.Price(ctx, ticker)
	}
	return 0, apperrors.NewPriceError("mixed", ticker, "unknown ticker", apperrors.ErrPriceUnavailable)
}

func TestBreakerSource_UnknownTickersDoNotMaskOutage(t *testing.T) {
	inner := &mixedSource{}
	src := NewBreakerSource(inner, resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	_, err := src.Price(ctx, "DOWN")
	require.Error(t, err)
	_, err = src.Price(ctx, "MISSING")
	require.ErrorIs(t, err, apperrors.ErrPriceUnavailable)
	_, err = src.Price(ctx, "DOWN")
	require.Error(t, err)

	assert.Equal(t, resilience.CircuitOpen, src.Breaker().State())
	_, err = src.Price(ctx, "MISSING")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

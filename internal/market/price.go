// Package market follows recommended tickers after a news item and records
// their price path at fixed day offsets.
package market

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newstrace/internal/config"
	apperrors "newstrace/internal/errors"
	"newstrace/internal/resilience"
)

// PriceSource returns the latest traded price of a ticker.
type PriceSource interface {
	Name() string
	Price(ctx context.Context, ticker string) (float64, error)
}

// NewPriceSource builds the configured provider, wrapped with a circuit
// breaker, rate limiting and, when enabled, a fixed fallback price.
func NewPriceSource(cfg config.PriceConfig, logger zerolog.Logger) (PriceSource, error) {
	var src PriceSource
	switch cfg.Provider {
	case "kite":
		kite, err := NewKitePriceSource(cfg.Kite, cfg.DefaultExchange)
		if err != nil {
			return nil, err
		}
		src = kite
	case "static", "":
		src = NewStaticPriceSource(cfg.Static)
	default:
		return nil, fmt.Errorf("unknown price provider: %s", cfg.Provider)
	}

	if cfg.BreakerFailures > 0 {
		src = NewBreakerSource(src, resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		})
	}
	if cfg.RequestsPerSecond > 0 {
		src = NewRateLimitedSource(src, cfg.RequestsPerSecond, cfg.Burst)
	}
	if cfg.FallbackEnabled {
		src = NewFallbackSource(src, cfg.FallbackPrice, logger)
	}
	return src, nil
}

// ValidPrice reports whether p is usable as a checkpoint price.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// fetchPrice reads a price and rejects non-positive or non-finite values.
func fetchPrice(ctx context.Context, src PriceSource, ticker string) (float64, error) {
	p, err := src.Price(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if !ValidPrice(p) {
		return 0, apperrors.NewPriceError(src.Name(), ticker, fmt.Sprintf("rejected price %v", p), apperrors.ErrInvalidPrice)
	}
	return p, nil
}

// StaticPriceSource serves prices from an in-memory table.
type StaticPriceSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticPriceSource creates a StaticPriceSource seeded with prices.
func NewStaticPriceSource(prices map[string]float64) *StaticPriceSource {
	s := &StaticPriceSource{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		s.prices[strings.ToUpper(k)] = v
	}
	return s
}

// Name returns the source name.
func (s *StaticPriceSource) Name() string {
	return "static"
}

// Set updates the price of ticker.
func (s *StaticPriceSource) Set(ticker string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(ticker)] = price
}

// Remove drops ticker so subsequent lookups fail.
func (s *StaticPriceSource) Remove(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, strings.ToUpper(ticker))
}

// Price returns the stored price of ticker.
func (s *StaticPriceSource) Price(ctx context.Context, ticker string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[strings.ToUpper(ticker)]
	if !ok {
		return 0, apperrors.NewPriceError(s.Name(), ticker, "no price configured", apperrors.ErrPriceUnavailable)
	}
	return p, nil
}

// RateLimitedSource throttles calls to an upstream source.
type RateLimitedSource struct {
	inner   PriceSource
	limiter *rate.Limiter
}

// NewRateLimitedSource allows perSecond calls with the given burst.
func NewRateLimitedSource(inner PriceSource, perSecond float64, burst int) *RateLimitedSource {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSource{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Name returns the upstream source name.
func (r *RateLimitedSource) Name() string {
	return r.inner.Name()
}

// Price waits for a token and queries the upstream source.
func (r *RateLimitedSource) Price(ctx context.Context, ticker string) (float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, apperrors.NewPriceError(r.inner.Name(), ticker, "rate limiter", err)
	}
	return r.inner.Price(ctx, ticker)
}

// FallbackSource substitutes a fixed price when the upstream lookup fails.
type FallbackSource struct {
	inner    PriceSource
	fallback float64
	logger   zerolog.Logger
}

// NewFallbackSource creates a FallbackSource.
func NewFallbackSource(inner PriceSource, fallback float64, logger zerolog.Logger) *FallbackSource {
	return &FallbackSource{inner: inner, fallback: fallback, logger: logger}
}

// Name returns the upstream source name.
func (f *FallbackSource) Name() string {
	return f.inner.Name()
}

// Price returns the upstream price, or the fallback on error or invalid value.
func (f *FallbackSource) Price(ctx context.Context, ticker string) (float64, error) {
	p, err := f.inner.Price(ctx, ticker)
	if err == nil && ValidPrice(p) {
		return p, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	f.logger.Warn().
		Err(err).
		Str("ticker", ticker).
		Float64("fallback", f.fallback).
		Msg("Price lookup failed, using fallback price")
	return f.fallback, nil
}

// BreakerSource stops calling an upstream that keeps failing at the transport
// level. Unknown tickers and rejected prices do not count as failures.
type BreakerSource struct {
	inner   PriceSource
	breaker *resilience.Breaker
}

// NewBreakerSource wraps inner with a circuit breaker.
func NewBreakerSource(inner PriceSource, cfg resilience.BreakerConfig) *BreakerSource {
	return &BreakerSource{
		inner:   inner,
		breaker: resilience.NewBreaker(inner.Name(), cfg),
	}
}

// Name returns the upstream source name.
func (b *BreakerSource) Name() string {
	return b.inner.Name()
}

// Breaker exposes the underlying circuit breaker.
func (b *BreakerSource) Breaker() *resilience.Breaker {
	return b.breaker
}

// Price queries the upstream unless the circuit is open.
func (b *BreakerSource) Price(ctx context.Context, ticker string) (float64, error) {
	p, err := resilience.Do(ctx, b.breaker, func(ctx context.Context) (float64, error) {
		p, err := b.inner.Price(ctx, ticker)
		if apperrors.Is(err, apperrors.ErrPriceUnavailable) || apperrors.Is(err, apperrors.ErrInvalidPrice) {
			return 0, resilience.Neutral(err)
		}
		return p, err
	})
	if apperrors.Is(err, resilience.ErrCircuitOpen) {
		return 0, apperrors.NewPriceError(b.inner.Name(), ticker, "provider circuit open", err)
	}
	return p, err
}

package services

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const rateKey = "recon:approx_rate"

// RateSource supplies the approximate crypto-to-fiat rate used by the
// amount-based match path. The rate is injected, never a constant: an
// external refresher writes it to Redis and configuration provides the
// fallback.
type RateSource interface {
	Rate(ctx context.Context) decimal.Decimal
}

// CachedRateSource reads the rate from Redis and falls back to the
// configured value when the key is missing or Redis is down.
type CachedRateSource struct {
	redis    *redis.Client
	fallback decimal.Decimal
}

func NewCachedRateSource(redisClient *redis.Client, fallback decimal.Decimal) *CachedRateSource {
	return &CachedRateSource{redis: redisClient, fallback: fallback}
}

func (s *CachedRateSource) Rate(ctx context.Context) decimal.Decimal {
	if s.redis == nil {
		return s.fallback
	}
	val, err := s.redis.Get(ctx, rateKey).Result()
	if err != nil {
		return s.fallback
	}
	rate, err := decimal.NewFromString(val)
	if err != nil || !rate.IsPositive() {
		log.Printf("[RATES] ignoring malformed cached rate %q", val)
		return s.fallback
	}
	return rate
}

// StaticRateSource returns a fixed rate; used in tests and as a degraded
// mode when Redis is not configured.
type StaticRateSource struct {
	Value decimal.Decimal
}

func (s StaticRateSource) Rate(context.Context) decimal.Decimal {
	return s.Value
}

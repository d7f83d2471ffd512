package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ReconConfig holds every tunable of the reconciliation core. All values
// come from viper with environment overrides, so the workers can be
// re-tuned without a rebuild.
type ReconConfig struct {
	FiatCurrency     string
	AmountTolerance  decimal.Decimal
	ApproxRate       decimal.Decimal
	MatcherInterval  time.Duration
	SweeperInterval  time.Duration
	AwaitingStatuses []int
	TerminalStatuses []int
	DedupWindow      time.Duration
	ExtractTimeout   time.Duration
	ExtractRetries   int
	AdMergeWindow    time.Duration
}

// Bind registers the environment variables the reconciliation core reads.
func Bind() {
	viper.BindEnv("trading.fiat_currency", "TRADING_FIAT_CURRENCY")
	viper.BindEnv("matching.amount_tolerance", "MATCHING_AMOUNT_TOLERANCE")
	viper.BindEnv("matching.approx_rate", "MATCHING_APPROX_RATE")
	viper.BindEnv("matcher.interval_seconds", "MATCHER_INTERVAL_SECONDS")
	viper.BindEnv("sweeper.interval_seconds", "SWEEPER_INTERVAL_SECONDS")
	viper.BindEnv("payouts.awaiting_statuses", "PAYOUTS_AWAITING_STATUSES")
	viper.BindEnv("payouts.terminal_statuses", "PAYOUTS_TERMINAL_STATUSES")
	viper.BindEnv("ingest.dedup_window", "INGEST_DEDUP_WINDOW")
	viper.BindEnv("extract.timeout", "EXTRACT_TIMEOUT")
	viper.BindEnv("extract.retries", "EXTRACT_RETRIES")
	viper.BindEnv("sweeper.ad_merge_window", "SWEEPER_AD_MERGE_WINDOW")
}

// Load returns the reconciliation configuration with defaults applied.
func Load() (*ReconConfig, error) {
	viper.SetDefault("trading.fiat_currency", "RUB")
	viper.SetDefault("matching.amount_tolerance", "50")
	viper.SetDefault("matching.approx_rate", "78.5")
	viper.SetDefault("matcher.interval_seconds", 30)
	viper.SetDefault("sweeper.interval_seconds", 300)
	viper.SetDefault("payouts.awaiting_statuses", []int{4})
	viper.SetDefault("payouts.terminal_statuses", []int{7, 9})
	viper.SetDefault("ingest.dedup_window", 24*time.Hour)
	viper.SetDefault("extract.timeout", 15*time.Second)
	viper.SetDefault("extract.retries", 3)
	viper.SetDefault("sweeper.ad_merge_window", 30*time.Minute)

	tolerance, err := decimal.NewFromString(viper.GetString("matching.amount_tolerance"))
	if err != nil {
		return nil, fmt.Errorf("invalid matching.amount_tolerance: %w", err)
	}
	rate, err := decimal.NewFromString(viper.GetString("matching.approx_rate"))
	if err != nil {
		return nil, fmt.Errorf("invalid matching.approx_rate: %w", err)
	}
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("matching.amount_tolerance must not be negative")
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("matching.approx_rate must be positive")
	}

	cfg := &ReconConfig{
		FiatCurrency:     viper.GetString("trading.fiat_currency"),
		AmountTolerance:  tolerance,
		ApproxRate:       rate,
		MatcherInterval:  time.Duration(viper.GetInt("matcher.interval_seconds")) * time.Second,
		SweeperInterval:  time.Duration(viper.GetInt("sweeper.interval_seconds")) * time.Second,
		AwaitingStatuses: viper.GetIntSlice("payouts.awaiting_statuses"),
		TerminalStatuses: viper.GetIntSlice("payouts.terminal_statuses"),
		DedupWindow:      viper.GetDuration("ingest.dedup_window"),
		ExtractTimeout:   viper.GetDuration("extract.timeout"),
		ExtractRetries:   viper.GetInt("extract.retries"),
		AdMergeWindow:    viper.GetDuration("sweeper.ad_merge_window"),
	}
	if len(cfg.AwaitingStatuses) == 0 {
		return nil, fmt.Errorf("payouts.awaiting_statuses must not be empty")
	}
	return cfg, nil
}

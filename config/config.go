// Package config loads and validates the simulation configuration. The
// core treats the result as a frozen record: it is parsed and validated
// once, before the simulation loop starts, and never re-read mid-run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/barsim/lifecycle"
	"github.com/rustyeddy/barsim/market"
	"github.com/rustyeddy/barsim/risk"
	"github.com/rustyeddy/barsim/sim"
)

// Config represents the complete simulation configuration.
type Config struct {
	Account    AccountConfig   `json:"account" yaml:"account"`
	Instrument string          `json:"instrument" yaml:"instrument"`
	Risk       RiskConfig      `json:"risk" yaml:"risk"`
	Lifecycle  LifecycleConfig `json:"lifecycle" yaml:"lifecycle"`
	Costs      CostsConfig     `json:"costs" yaml:"costs"`
	KillZones  []KillZone      `json:"kill_zones,omitempty" yaml:"kill_zones,omitempty"`
	Journal    JournalConfig   `json:"journal" yaml:"journal"`

	// QuoteToAccount converts quote currency to account currency for the
	// run (1.0 for USD quotes on a USD account).
	QuoteToAccount float64 `json:"quote_to_account" yaml:"quote_to_account"`
}

type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
	Leverage float64 `json:"leverage" yaml:"leverage"`
}

type TierConfig struct {
	RiskPct         float64 `json:"risk_pct" yaml:"risk_pct"`
	MaxRiskPct      float64 `json:"max_risk_pct" yaml:"max_risk_pct"`
	MinQuality      float64 `json:"min_quality" yaml:"min_quality"`
	MinRR           float64 `json:"min_rr" yaml:"min_rr"`
	MaxDailyTrades  int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	RequireKillZone bool    `json:"require_kill_zone" yaml:"require_kill_zone"`
}

type RiskConfig struct {
	Tiers map[string]TierConfig `json:"tiers,omitempty" yaml:"tiers,omitempty"`

	KellyFraction     float64 `json:"kelly_fraction" yaml:"kelly_fraction"`
	MinTradesForKelly int     `json:"min_trades_for_kelly" yaml:"min_trades_for_kelly"`

	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxPortfolioRiskPct float64 `json:"max_portfolio_risk_pct" yaml:"max_portfolio_risk_pct"`

	MaxDailyLossPct   float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxWeeklyLossPct  float64 `json:"max_weekly_loss_pct" yaml:"max_weekly_loss_pct"`
	MaxMonthlyLossPct float64 `json:"max_monthly_loss_pct" yaml:"max_monthly_loss_pct"`

	ConsecutiveLossHalt int `json:"consecutive_loss_halt" yaml:"consecutive_loss_halt"`
}

type PartialLevelConfig struct {
	ProfitPct float64 `json:"profit_pct" yaml:"profit_pct"`
	ClosePct  float64 `json:"close_pct" yaml:"close_pct"`
}

type LifecycleConfig struct {
	BreakEvenEnabled       bool    `json:"break_even_enabled" yaml:"break_even_enabled"`
	BreakEvenActivationPct float64 `json:"break_even_activation_pct" yaml:"break_even_activation_pct"`
	BreakEvenBufferPct     float64 `json:"break_even_buffer_pct" yaml:"break_even_buffer_pct"`

	PartialEnabled bool                 `json:"partial_enabled" yaml:"partial_enabled"`
	PartialLevels  []PartialLevelConfig `json:"partial_levels,omitempty" yaml:"partial_levels,omitempty"`

	TrailingEnabled       bool    `json:"trailing_enabled" yaml:"trailing_enabled"`
	TrailingActivationPct float64 `json:"trailing_activation_pct" yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64 `json:"trailing_distance_pct" yaml:"trailing_distance_pct"`
	TrailingStepPct       float64 `json:"trailing_step_pct" yaml:"trailing_step_pct"`

	MaxHold string `json:"max_hold,omitempty" yaml:"max_hold,omitempty"` // e.g. "24h", empty disables
}

type CostsConfig struct {
	SlippageMode string  `json:"slippage_mode" yaml:"slippage_mode"` // "fixed" or "volatility"
	SlippagePips float64 `json:"slippage_pips" yaml:"slippage_pips"`
	SlippageATR  float64 `json:"slippage_atr" yaml:"slippage_atr"`

	SpreadMode string  `json:"spread_mode" yaml:"spread_mode"`
	SpreadPips float64 `json:"spread_pips" yaml:"spread_pips"`
	SpreadATR  float64 `json:"spread_atr" yaml:"spread_atr"`

	CommissionPerLot float64 `json:"commission_per_lot" yaml:"commission_per_lot"`
	CommissionPct    float64 `json:"commission_pct" yaml:"commission_pct"`
	ATRPeriod        int     `json:"atr_period" yaml:"atr_period"`
}

// KillZone is a high-liquidity session window in UTC wall-clock time, e.g.
// {start: "07:00", end: "10:00"} for the London open.
type KillZone struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite", or "none"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration before a run. The simulation core
// itself never validates; it trusts this frozen record.
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if c.Account.Leverage <= 0 {
		return fmt.Errorf("account.leverage must be positive")
	}
	if c.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if _, ok := market.Instruments[c.Instrument]; !ok {
		return fmt.Errorf("unknown instrument: %s", c.Instrument)
	}
	if c.QuoteToAccount <= 0 {
		return fmt.Errorf("quote_to_account must be positive")
	}

	for name, t := range c.Risk.Tiers {
		switch risk.Tier(name) {
		case risk.TierMicro, risk.TierSmall, risk.TierMedium, risk.TierStandard:
		default:
			return fmt.Errorf("unknown risk tier %q", name)
		}
		if t.RiskPct <= 0 || t.RiskPct > 0.05 {
			return fmt.Errorf("tier %s: risk_pct must be in (0, 0.05]", name)
		}
		if t.MaxRiskPct < t.RiskPct {
			return fmt.Errorf("tier %s: max_risk_pct below risk_pct", name)
		}
	}
	if c.Risk.KellyFraction < 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction must be in [0, 1]")
	}

	switch c.Costs.SlippageMode {
	case "", "fixed", "volatility":
	default:
		return fmt.Errorf("costs.slippage_mode must be fixed or volatility")
	}
	switch c.Costs.SpreadMode {
	case "", "fixed", "volatility":
	default:
		return fmt.Errorf("costs.spread_mode must be fixed or volatility")
	}
	if c.Costs.SlippagePips < 0 || c.Costs.SpreadPips < 0 {
		return fmt.Errorf("costs pips must be non-negative")
	}

	prev := -1.0
	for i, lvl := range c.Lifecycle.PartialLevels {
		if lvl.ProfitPct <= prev {
			return fmt.Errorf("lifecycle.partial_levels[%d]: profit_pct must be strictly increasing", i)
		}
		if lvl.ClosePct <= 0 || lvl.ClosePct > 100 {
			return fmt.Errorf("lifecycle.partial_levels[%d]: close_pct must be in (0, 100]", i)
		}
		prev = lvl.ProfitPct
	}
	if c.Lifecycle.MaxHold != "" {
		if _, err := time.ParseDuration(c.Lifecycle.MaxHold); err != nil {
			return fmt.Errorf("lifecycle.max_hold: %w", err)
		}
	}

	for i, z := range c.KillZones {
		if _, err := time.Parse("15:04", z.Start); err != nil {
			return fmt.Errorf("kill_zones[%d].start: %w", i, err)
		}
		if _, err := time.Parse("15:04", z.End); err != nil {
			return fmt.Errorf("kill_zones[%d].end: %w", i, err)
		}
	}

	switch c.Journal.Type {
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	pol := risk.DefaultPolicy()
	tiers := make(map[string]TierConfig, len(pol.Tiers))
	for name, t := range pol.Tiers {
		tiers[string(name)] = TierConfig{
			RiskPct:         t.RiskPct,
			MaxRiskPct:      t.MaxRiskPct,
			MinQuality:      t.MinQuality,
			MinRR:           t.MinRR,
			MaxDailyTrades:  t.MaxDailyTrades,
			RequireKillZone: t.RequireKillZone,
		}
	}

	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  1000,
			Leverage: 100,
		},
		Instrument:     "EUR_USD",
		QuoteToAccount: 1.0,
		Risk: RiskConfig{
			Tiers:               tiers,
			KellyFraction:       pol.KellyFraction,
			MinTradesForKelly:   pol.MinTradesForKelly,
			MaxOpenPositions:    pol.MaxOpenPositions,
			MaxPortfolioRiskPct: pol.MaxPortfolioRiskPct,
			MaxDailyLossPct:     pol.MaxDailyLossPct,
			MaxWeeklyLossPct:    pol.MaxWeeklyLossPct,
			MaxMonthlyLossPct:   pol.MaxMonthlyLossPct,
			ConsecutiveLossHalt: pol.ConsecutiveLossHalt,
		},
		Lifecycle: LifecycleConfig{
			BreakEvenEnabled:       true,
			BreakEvenActivationPct: 0.5,
			BreakEvenBufferPct:     0.1,
			PartialEnabled:         true,
			PartialLevels: []PartialLevelConfig{
				{ProfitPct: 1.0, ClosePct: 30},
				{ProfitPct: 2.0, ClosePct: 30},
				{ProfitPct: 3.0, ClosePct: 40},
			},
			TrailingEnabled:       true,
			TrailingActivationPct: 1.0,
			TrailingDistancePct:   0.5,
			TrailingStepPct:       0.25,
			MaxHold:               "24h",
		},
		Costs: CostsConfig{
			SlippageMode: "fixed",
			SlippagePips: 1,
			SpreadMode:   "fixed",
			SpreadPips:   1,
			ATRPeriod:    14,
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
	}
}

// RiskPolicy converts the config into the frozen risk policy.
func (c *Config) RiskPolicy() risk.Policy {
	pol := risk.Policy{
		Tiers:               make(map[risk.Tier]risk.TierPolicy, len(c.Risk.Tiers)),
		KellyFraction:       c.Risk.KellyFraction,
		MinTradesForKelly:   c.Risk.MinTradesForKelly,
		MaxOpenPositions:    c.Risk.MaxOpenPositions,
		MaxPortfolioRiskPct: c.Risk.MaxPortfolioRiskPct,
		MaxDailyLossPct:     c.Risk.MaxDailyLossPct,
		MaxWeeklyLossPct:    c.Risk.MaxWeeklyLossPct,
		MaxMonthlyLossPct:   c.Risk.MaxMonthlyLossPct,
		ConsecutiveLossHalt: c.Risk.ConsecutiveLossHalt,
	}
	for name, t := range c.Risk.Tiers {
		pol.Tiers[risk.Tier(name)] = risk.TierPolicy{
			RiskPct:         t.RiskPct,
			MaxRiskPct:      t.MaxRiskPct,
			MinQuality:      t.MinQuality,
			MinRR:           t.MinRR,
			MaxDailyTrades:  t.MaxDailyTrades,
			RequireKillZone: t.RequireKillZone,
		}
	}
	return pol
}

// LifecyclePolicy converts the config into the frozen lifecycle config.
func (c *Config) LifecyclePolicy() lifecycle.Config {
	lc := lifecycle.Config{
		BreakEvenEnabled:       c.Lifecycle.BreakEvenEnabled,
		BreakEvenActivationPct: c.Lifecycle.BreakEvenActivationPct,
		BreakEvenBufferPct:     c.Lifecycle.BreakEvenBufferPct,
		PartialEnabled:         c.Lifecycle.PartialEnabled,
		TrailingEnabled:        c.Lifecycle.TrailingEnabled,
		TrailingActivationPct:  c.Lifecycle.TrailingActivationPct,
		TrailingDistancePct:    c.Lifecycle.TrailingDistancePct,
		TrailingStepPct:        c.Lifecycle.TrailingStepPct,
	}
	for _, lvl := range c.Lifecycle.PartialLevels {
		lc.PartialLevels = append(lc.PartialLevels, lifecycle.PartialLevel{
			ProfitPct: lvl.ProfitPct,
			ClosePct:  lvl.ClosePct,
		})
	}
	if c.Lifecycle.MaxHold != "" {
		// Validated already.
		d, _ := time.ParseDuration(c.Lifecycle.MaxHold)
		lc.MaxHold = d
	}
	return lc
}

// CostModel converts the config into the frozen execution cost model.
func (c *Config) CostModel() sim.CostModel {
	cm := sim.CostModel{
		SlippagePips:     c.Costs.SlippagePips,
		SlippageATR:      c.Costs.SlippageATR,
		SpreadPips:       c.Costs.SpreadPips,
		SpreadATR:        c.Costs.SpreadATR,
		CommissionPerLot: c.Costs.CommissionPerLot,
		CommissionPct:    c.Costs.CommissionPct,
		ATRPeriod:        c.Costs.ATRPeriod,
	}
	if c.Costs.SlippageMode == "volatility" {
		cm.SlippageMode = sim.SlippageVolatility
	}
	if c.Costs.SpreadMode == "volatility" {
		cm.SpreadMode = sim.SpreadVolatility
	}
	return cm
}

// InKillZone reports whether t falls inside any configured session window
// (UTC wall clock). With no windows configured every time qualifies.
func (c *Config) InKillZone(t time.Time) bool {
	if len(c.KillZones) == 0 {
		return true
	}
	hm := t.UTC().Hour()*60 + t.UTC().Minute()
	for _, z := range c.KillZones {
		s, _ := time.Parse("15:04", z.Start)
		e, _ := time.Parse("15:04", z.End)
		start := s.Hour()*60 + s.Minute()
		end := e.Hour()*60 + e.Minute()
		if start <= end {
			if hm >= start && hm < end {
				return true
			}
		} else if hm >= start || hm < end { // window wraps midnight
			return true
		}
	}
	return false
}

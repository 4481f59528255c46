package risk

// Tier classifies an account by balance. Smaller accounts trade smaller
// risk fractions and face stricter entry filters.
type Tier string

const (
	TierMicro    Tier = "micro"    // < $500
	TierSmall    Tier = "small"    // < $1000
	TierMedium   Tier = "medium"   // < $2000
	TierStandard Tier = "standard" // >= $2000
)

func TierFor(balance float64) Tier {
	switch {
	case balance < 500:
		return TierMicro
	case balance < 1000:
		return TierSmall
	case balance < 2000:
		return TierMedium
	default:
		return TierStandard
	}
}

// TierPolicy is the per-tier slice of the policy.
type TierPolicy struct {
	RiskPct         float64 // base risk fraction per trade, e.g. 0.005
	MaxRiskPct      float64 // hard cap regardless of Kelly or streaks
	MinQuality      float64 // minimum signal quality score
	MinRR           float64 // minimum reward:risk of the proposed trade
	MaxDailyTrades  int
	RequireKillZone bool // entries only inside configured session windows
}

// Policy is the frozen, validated risk configuration for a run.
type Policy struct {
	Tiers map[Tier]TierPolicy

	// Fractional Kelly. The engine uses at most KellyFraction of the full
	// Kelly estimate, and only once MinTradesForKelly closes exist.
	KellyFraction     float64
	MinTradesForKelly int

	MaxOpenPositions int

	// Portfolio exposure: combined stop-out risk beyond this fraction of
	// balance shrinks the proposed risk instead of rejecting it.
	MaxPortfolioRiskPct float64

	// Loss-limit circuit breakers, as fractions of balance.
	MaxDailyLossPct   float64
	MaxWeeklyLossPct  float64
	MaxMonthlyLossPct float64

	// Halt new entries after this many consecutive losing closes; the
	// counter resets on the next trading day.
	ConsecutiveLossHalt int
}

func (p Policy) Tier(t Tier) TierPolicy {
	if tp, ok := p.Tiers[t]; ok {
		return tp
	}
	return DefaultPolicy().Tiers[TierStandard]
}

// DefaultPolicy mirrors the small-capital defaults the system ships with.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: map[Tier]TierPolicy{
			TierMicro:    {RiskPct: 0.003, MaxRiskPct: 0.005, MinQuality: 8, MinRR: 2.5, MaxDailyTrades: 2, RequireKillZone: true},
			TierSmall:    {RiskPct: 0.005, MaxRiskPct: 0.007, MinQuality: 7, MinRR: 2.0, MaxDailyTrades: 3},
			TierMedium:   {RiskPct: 0.007, MaxRiskPct: 0.01, MinQuality: 7, MinRR: 2.0, MaxDailyTrades: 4},
			TierStandard: {RiskPct: 0.01, MaxRiskPct: 0.01, MinQuality: 6, MinRR: 1.5, MaxDailyTrades: 5},
		},
		KellyFraction:       0.25,
		MinTradesForKelly:   20,
		MaxOpenPositions:    3,
		MaxPortfolioRiskPct: 0.05,
		MaxDailyLossPct:     0.05,
		MaxWeeklyLossPct:    0.10,
		MaxMonthlyLossPct:   0.15,
		ConsecutiveLossHalt: 3,
	}
}

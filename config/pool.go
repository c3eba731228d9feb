package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vestchain/crypto"
	"vestchain/native/vesting"
)

const (
	// PresetVesting is the linear-with-cliff sale pool.
	PresetVesting = "vesting"
	// PresetRewards is the compounding decay-drip rewards pool.
	PresetRewards = "rewards"

	// DefaultTimelockDelay is the minimum delay of scheduled actions.
	DefaultTimelockDelay = 48 * time.Hour
)

// PoolConfig describes the single pool created at genesis. Amounts are
// decimal strings in base units; exponent notation such as "1e10" is accepted.
type PoolConfig struct {
	Preset              string   `toml:"Preset" yaml:"preset"`
	Curve               string   `toml:"Curve" yaml:"curve"`
	Token               string   `toml:"Token" yaml:"token"`
	Cap                 string   `toml:"Cap" yaml:"cap"`
	StartRound          int64    `toml:"StartRound" yaml:"startRound"`
	StartRoundIncrement Duration `toml:"StartRoundIncrement" yaml:"startRoundIncrement"`
	CliffDuration       Duration `toml:"CliffDuration" yaml:"cliffDuration"`
	VestingDuration     Duration `toml:"VestingDuration" yaml:"vestingDuration"`
	TGEBasisPoints      uint32   `toml:"TGEBasisPoints" yaml:"tgeBasisPoints"`
	Period              Duration `toml:"Period" yaml:"period"`
	DecayRatePercent    string   `toml:"DecayRatePercent" yaml:"decayRatePercent"`
	Treasury            string   `toml:"Treasury" yaml:"treasury"`
}

// applyPreset fills unset fields from the named preset.
func (p *PoolConfig) applyPreset() {
	switch strings.ToLower(strings.TrimSpace(p.Preset)) {
	case PresetVesting:
		if p.Curve == "" {
			p.Curve = vesting.CurveLinearCliff.String()
		}
		if p.Cap == "" {
			p.Cap = "10000000000"
		}
		if p.StartRoundIncrement.Duration == 0 {
			p.StartRoundIncrement = Duration{60 * time.Second}
		}
		if p.VestingDuration.Duration == 0 {
			p.VestingDuration = Duration{20 * 24 * time.Hour}
		}
		if p.TGEBasisPoints == 0 {
			p.TGEBasisPoints = 500
		}
	case PresetRewards:
		if p.Curve == "" {
			p.Curve = vesting.CurveDecayDrip.String()
		}
		if p.Cap == "" {
			p.Cap = "21000000000000000"
		}
		if p.Period.Duration == 0 {
			p.Period = Duration{28 * 24 * time.Hour}
		}
		if p.DecayRatePercent == "" {
			p.DecayRatePercent = "0.4"
		}
	}
}

// CapAmount parses the configured cap.
func (p PoolConfig) CapAmount() (*big.Int, error) {
	return ParseAmount(p.Cap)
}

// DecayRateBasisPoints converts the decimal percentage into basis points. The
// result must be a whole number of basis points.
func (p PoolConfig) DecayRateBasisPoints() (uint32, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(p.DecayRatePercent))
	if err != nil {
		return 0, fmt.Errorf("decayRatePercent: %w", err)
	}
	bps := pct.Mul(decimal.NewFromInt(100))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("decayRatePercent %s is finer than one basis point", pct)
	}
	if bps.Sign() <= 0 || bps.GreaterThan(decimal.NewFromInt(vesting.BasisPointsDenominator)) {
		return 0, fmt.Errorf("decayRatePercent %s out of range", pct)
	}
	return uint32(bps.IntPart()), nil
}

// CurveParams builds the curve parameters of the configured pool.
func (p PoolConfig) CurveParams() (vesting.CurveParams, error) {
	kind, err := vesting.ParseCurveKind(p.Curve)
	if err != nil {
		return vesting.CurveParams{}, err
	}
	var params vesting.CurveParams
	switch kind {
	case vesting.CurveLinearCliff:
		params = vesting.NewLinearCliff(p.CliffDuration.Seconds(), p.VestingDuration.Seconds(), p.TGEBasisPoints)
	case vesting.CurveDecayDrip:
		rate, err := p.DecayRateBasisPoints()
		if err != nil {
			return vesting.CurveParams{}, err
		}
		params = vesting.NewDecayDrip(p.Period.Seconds(), rate)
	}
	if err := params.Validate(); err != nil {
		return vesting.CurveParams{}, err
	}
	return params, nil
}

// Validate checks the pool section without touching the clock.
func (p PoolConfig) Validate() error {
	if strings.TrimSpace(p.Token) == "" {
		return fmt.Errorf("token required")
	}
	capAmount, err := p.CapAmount()
	if err != nil {
		return fmt.Errorf("cap: %w", err)
	}
	if capAmount.Sign() <= 0 {
		return fmt.Errorf("cap must be positive")
	}
	if _, err := p.CurveParams(); err != nil {
		return err
	}
	if p.StartRound < 0 {
		return fmt.Errorf("startRound must not be negative")
	}
	if strings.TrimSpace(p.Treasury) != "" {
		if _, err := crypto.ParseAddress(p.Treasury); err != nil {
			return fmt.Errorf("treasury: %w", err)
		}
	}
	return nil
}

// Build converts the configuration into the genesis pool. genesisTime anchors
// StartRound when no absolute start is configured.
func (p PoolConfig) Build(genesisTime int64) (*vesting.Pool, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	capAmount, err := p.CapAmount()
	if err != nil {
		return nil, err
	}
	params, err := p.CurveParams()
	if err != nil {
		return nil, err
	}
	start := p.StartRound
	if start == 0 {
		start = genesisTime + p.StartRoundIncrement.Seconds()
	}
	token := strings.ToUpper(strings.TrimSpace(p.Token))
	pool := &vesting.Pool{
		Cap:            capAmount,
		TotalPurchased: big.NewInt(0),
		StartRound:     start,
		Curve:          params,
		Vault:          vesting.ModuleVaultAddress(token),
		Token:          token,
	}
	if strings.TrimSpace(p.Treasury) != "" {
		treasury, err := crypto.ParseAddress(p.Treasury)
		if err != nil {
			return nil, err
		}
		pool.Treasury = treasury
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return pool, nil
}

// ParseAmount parses a non-negative integral amount.
func ParseAmount(raw string) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if !value.IsInteger() {
		return nil, fmt.Errorf("amount %q must be a whole number of base units", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value.BigInt(), nil
}

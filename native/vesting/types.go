package vesting

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// BasisPointsDenominator expresses 100% in basis points.
const BasisPointsDenominator = 10_000

// CurveKind selects the unlock strategy of a pool.
type CurveKind uint8

const (
	CurveUnspecified CurveKind = iota
	// CurveLinearCliff unlocks nothing until the cliff, releases the TGE
	// fraction at the cliff and vests the remainder linearly.
	CurveLinearCliff
	// CurveDecayDrip releases a fixed share of the remaining principal for
	// every whole period since the last claim.
	CurveDecayDrip
)

func (k CurveKind) Valid() bool {
	switch k {
	case CurveLinearCliff, CurveDecayDrip:
		return true
	default:
		return false
	}
}

func (k CurveKind) String() string {
	switch k {
	case CurveLinearCliff:
		return "linear_cliff"
	case CurveDecayDrip:
		return "decay_drip"
	default:
		return "unspecified"
	}
}

// ParseCurveKind accepts the names produced by String.
func ParseCurveKind(raw string) (CurveKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "linear_cliff", "linear-cliff", "linearcliff":
		return CurveLinearCliff, nil
	case "decay_drip", "decay-drip", "decaydrip":
		return CurveDecayDrip, nil
	default:
		return CurveUnspecified, fmt.Errorf("vesting: unknown curve %q", raw)
	}
}

// LinearCliff parameters. Durations are seconds.
type LinearCliff struct {
	CliffDuration   int64
	VestingDuration int64
	TGEBasisPoints  uint32
}

// DecayDrip parameters. PeriodLength is seconds.
type DecayDrip struct {
	PeriodLength         int64
	DecayRateBasisPoints uint32
}

// CurveParams is a tagged union: Kind decides which of the variant fields is
// meaningful.
type CurveParams struct {
	Kind        CurveKind
	LinearCliff LinearCliff
	DecayDrip   DecayDrip
}

// NewLinearCliff builds linear-with-cliff curve parameters.
func NewLinearCliff(cliff, vesting int64, tgeBps uint32) CurveParams {
	return CurveParams{Kind: CurveLinearCliff, LinearCliff: LinearCliff{CliffDuration: cliff, VestingDuration: vesting, TGEBasisPoints: tgeBps}}
}

// NewDecayDrip builds compounding decay-drip curve parameters.
func NewDecayDrip(period int64, rateBps uint32) CurveParams {
	return CurveParams{Kind: CurveDecayDrip, DecayDrip: DecayDrip{PeriodLength: period, DecayRateBasisPoints: rateBps}}
}

// Validate checks the active variant.
func (c CurveParams) Validate() error {
	switch c.Kind {
	case CurveLinearCliff:
		p := c.LinearCliff
		if p.CliffDuration < 0 {
			return fmt.Errorf("%w: negative cliff duration", ErrInvalidCurve)
		}
		if p.VestingDuration <= 0 {
			return fmt.Errorf("%w: vesting duration must be positive", ErrInvalidCurve)
		}
		if p.TGEBasisPoints > BasisPointsDenominator {
			return fmt.Errorf("%w: tge basis points exceed %d", ErrInvalidCurve, BasisPointsDenominator)
		}
	case CurveDecayDrip:
		p := c.DecayDrip
		if p.PeriodLength <= 0 {
			return fmt.Errorf("%w: period length must be positive", ErrInvalidCurve)
		}
		if p.DecayRateBasisPoints == 0 || p.DecayRateBasisPoints > BasisPointsDenominator {
			return fmt.Errorf("%w: decay rate must be within (0, %d] basis points", ErrInvalidCurve, BasisPointsDenominator)
		}
	default:
		return fmt.Errorf("%w: unknown curve kind %d", ErrInvalidCurve, c.Kind)
	}
	return nil
}

// Pool is the single cap pool of a deployment.
type Pool struct {
	Cap            *big.Int
	TotalPurchased *big.Int
	StartRound     int64
	Curve          CurveParams
	// Treasury receives unpurchased funds once a LinearCliff round finishes.
	Treasury [20]byte
	// Vault holds the deposited token balance that backs every claim.
	Vault     [20]byte
	Token     string
	Withdrawn bool
}

// Validate checks the construction-time parameters of a pool.
func (p *Pool) Validate() error {
	if p == nil {
		return ErrPoolNotFound
	}
	if p.Cap == nil || p.Cap.Sign() <= 0 {
		return fmt.Errorf("vesting: cap must be positive")
	}
	if _, overflow := uint256.FromBig(p.Cap); overflow {
		return ErrAmountOverflow
	}
	if p.TotalPurchased != nil && p.TotalPurchased.Cmp(p.Cap) > 0 {
		return ErrCapExceeded
	}
	if err := p.Curve.Validate(); err != nil {
		return err
	}
	if p.Vault == ([20]byte{}) {
		return fmt.Errorf("vesting: vault address required")
	}
	if p.Curve.Kind == CurveLinearCliff && p.Treasury == ([20]byte{}) {
		return fmt.Errorf("vesting: treasury address required for linear cliff pools")
	}
	if strings.TrimSpace(p.Token) == "" {
		return fmt.Errorf("vesting: token symbol required")
	}
	return nil
}

// Available returns cap minus everything already reserved.
func (p *Pool) Available() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Sub(cloneBigInt(p.Cap), cloneBigInt(p.TotalPurchased))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Cap = cloneBigInt(p.Cap)
	clone.TotalPurchased = cloneBigInt(p.TotalPurchased)
	return &clone
}

// Account tracks a single beneficiary's entitlement.
type Account struct {
	Address   [20]byte
	Purchased *big.Int
	Claimed   *big.Int
	// LastClaimTime anchors decay-drip compounding. It starts at the time of
	// the first reservation.
	LastClaimTime int64
	ReservedAt    int64
}

func newAccount(addr [20]byte, now int64) *Account {
	return &Account{
		Address:       addr,
		Purchased:     big.NewInt(0),
		Claimed:       big.NewInt(0),
		LastClaimTime: now,
		ReservedAt:    now,
	}
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Purchased = cloneBigInt(a.Purchased)
	clone.Claimed = cloneBigInt(a.Claimed)
	return &clone
}

// Remaining returns purchased minus claimed, floored at zero.
func (a *Account) Remaining() *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Sub(cloneBigInt(a.Purchased), cloneBigInt(a.Claimed))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// checkAmount rejects non-positive values and anything that does not fit in
// an unsigned 256-bit word.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}

func checkBound(v *big.Int) error {
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOverflow
	}
	return nil
}

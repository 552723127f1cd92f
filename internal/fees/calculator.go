package fees

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
)

var (
	// ErrNonPositiveAmount is returned by Quote for amounts <= 0.
	ErrNonPositiveAmount = errors.New("donation amount must be positive")
	// ErrAmountBelowFees is returned by Quote when fees would exceed the amount.
	ErrAmountBelowFees = errors.New("donation amount does not cover processing fees")
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Rates are the jurisdiction-specific fee inputs.
type Rates struct {
	PlatformRate   decimal.Decimal
	GSTRate        decimal.Decimal
	ProcessorRate  decimal.Decimal
	ProcessorFixed decimal.Decimal
}

// DefaultRates are the Australian platform defaults, matching the config defaults.
func DefaultRates() Rates {
	return Rates{
		PlatformRate:   decimal.RequireFromString("0.05"),
		GSTRate:        decimal.RequireFromString("0.10"),
		ProcessorRate:  decimal.RequireFromString("0.029"),
		ProcessorFixed: decimal.RequireFromString("0.30"),
	}
}

// RatesFromConfig maps the configured fee section to calculator rates.
func RatesFromConfig(cfg config.FeesConfig) Rates {
	return Rates{
		PlatformRate:   cfg.PlatformRate,
		GSTRate:        cfg.GSTRate,
		ProcessorRate:  cfg.ProcessorRate,
		ProcessorFixed: cfg.ProcessorFixed,
	}
}

// Breakdown is the full charge and settlement split for one donation.
type Breakdown struct {
	BaseAmount     decimal.Decimal
	CoverFees      bool
	PlatformFee    decimal.Decimal
	GSTOnFee       decimal.Decimal
	ApplicationFee decimal.Decimal
	ProcessorFee   decimal.Decimal
	TotalCharge    decimal.Decimal
	NetToOrg       decimal.Decimal
}

// Calculator computes fee breakdowns from injected rates.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the rates the calculator was built with.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Compute returns the breakdown for baseAmount. Every monetary sub-result is
// rounded to cents before it is combined. Callers reject baseAmount <= 0.
func (c *Calculator) Compute(baseAmount decimal.Decimal, coverFees bool) Breakdown {
	base := round2(baseAmount)
	platformFee := round2(base.Mul(c.rates.PlatformRate))
	gstOnFee := round2(platformFee.Mul(c.rates.GSTRate))
	applicationFee := platformFee.Add(gstOnFee)

	total := base
	if coverFees {
		total = round2(base.Add(applicationFee).Add(c.rates.ProcessorFixed).Div(one.Sub(c.rates.ProcessorRate)))
	}
	processorFee := c.processorFee(total)

	return Breakdown{
		BaseAmount:     base,
		CoverFees:      coverFees,
		PlatformFee:    platformFee,
		GSTOnFee:       gstOnFee,
		ApplicationFee: applicationFee,
		ProcessorFee:   processorFee,
		TotalCharge:    total,
		NetToOrg:       total.Sub(processorFee).Sub(applicationFee),
	}
}

// Quote validates baseAmount and returns its breakdown.
func (c *Calculator) Quote(baseAmount decimal.Decimal, coverFees bool) (Breakdown, error) {
	if !baseAmount.IsPositive() {
		return Breakdown{}, ErrNonPositiveAmount
	}
	breakdown := c.Compute(baseAmount, coverFees)
	if breakdown.NetToOrg.IsNegative() {
		return breakdown, ErrAmountBelowFees
	}
	return breakdown, nil
}

func (c *Calculator) processorFee(total decimal.Decimal) decimal.Decimal {
	return round2(total.Mul(c.rates.ProcessorRate).Add(c.rates.ProcessorFixed))
}

// TotalChargeCents is the amount sent to the processor in minor units.
func (b Breakdown) TotalChargeCents() int64 {
	return ToCents(b.TotalCharge)
}

// ApplicationFeeCents is the platform-retained fee in minor units.
func (b Breakdown) ApplicationFeeCents() int64 {
	return ToCents(b.ApplicationFee)
}

// Metadata flattens the breakdown for processor-side audit.
func (b Breakdown) Metadata() map[string]string {
	return map[string]string{
		"baseAmount":     b.BaseAmount.StringFixed(2),
		"coverFees":      boolString(b.CoverFees),
		"platformFee":    b.PlatformFee.StringFixed(2),
		"gstOnFee":       b.GSTOnFee.StringFixed(2),
		"applicationFee": b.ApplicationFee.StringFixed(2),
		"processorFee":   b.ProcessorFee.StringFixed(2),
		"totalCharge":    b.TotalCharge.StringFixed(2),
		"netToOrg":       b.NetToOrg.StringFixed(2),
	}
}

// ToCents converts a currency amount to integer minor units.
func ToCents(amount decimal.Decimal) int64 {
	return round2(amount).Mul(hundred).IntPart()
}

// FromCents converts integer minor units to a currency amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

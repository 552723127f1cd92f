package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates() Rates {
	return Rates{
		PlatformRate:   decimal.RequireFromString("0.05"),
		GSTRate:        decimal.RequireFromString("0.10"),
		ProcessorRate:  decimal.RequireFromString("0.029"),
		ProcessorFixed: decimal.RequireFromString("0.30"),
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestComputeWithoutCoverFees(t *testing.T) {
	calc := NewCalculator(testRates())

	got := calc.Compute(dec("100.00"), false)

	assert.True(t, got.PlatformFee.Equal(dec("5.00")), "platform fee %s", got.PlatformFee)
	assert.True(t, got.GSTOnFee.Equal(dec("0.50")), "gst %s", got.GSTOnFee)
	assert.True(t, got.ApplicationFee.Equal(dec("5.50")), "application fee %s", got.ApplicationFee)
	assert.True(t, got.ProcessorFee.Equal(dec("3.20")), "processor fee %s", got.ProcessorFee)
	assert.True(t, got.NetToOrg.Equal(dec("91.30")), "net %s", got.NetToOrg)
	assert.True(t, got.TotalCharge.Equal(dec("100.00")), "total %s", got.TotalCharge)
}

func TestComputeWithCoverFeesGrossesUp(t *testing.T) {
	calc := NewCalculator(testRates())

	got := calc.Compute(dec("100.00"), true)

	assert.True(t, got.TotalCharge.Equal(dec("108.96")), "total %s", got.TotalCharge)
	assert.True(t, got.ProcessorFee.Equal(dec("3.46")), "processor fee %s", got.ProcessorFee)
	assert.True(t, got.NetToOrg.Equal(dec("100.00")), "net %s", got.NetToOrg)
	assert.True(t, got.BaseAmount.Equal(dec("100.00")), "base must not be adjusted, got %s", got.BaseAmount)
}

func TestCoverFeesNetWithinOneCentOfBase(t *testing.T) {
	calc := NewCalculator(testRates())
	cent := dec("0.01")

	for cents := int64(100); cents <= 500000; cents += 137 {
		base := FromCents(cents)
		got := calc.Compute(base, true)
		diff := got.NetToOrg.Sub(base).Abs()
		if diff.GreaterThan(cent) {
			t.Fatalf("base %s: net %s differs by %s", base, got.NetToOrg, diff)
		}
		expectedTotal := base.Add(got.ApplicationFee)
		if got.TotalCharge.LessThan(expectedTotal) {
			t.Fatalf("base %s: total %s below base plus application fee", base, got.TotalCharge)
		}
	}
}

func TestNoCoverFeesNetIsExactDifference(t *testing.T) {
	calc := NewCalculator(testRates())

	for cents := int64(50); cents <= 500000; cents += 211 {
		base := FromCents(cents)
		got := calc.Compute(base, false)
		if !got.TotalCharge.Equal(base) {
			t.Fatalf("base %s: total %s should equal base", base, got.TotalCharge)
		}
		expected := base.Sub(got.PlatformFee).Sub(got.GSTOnFee).Sub(got.ProcessorFee)
		if !got.NetToOrg.Equal(expected) {
			t.Fatalf("base %s: net %s expected %s", base, got.NetToOrg, expected)
		}
	}
}

func TestRoundingHappensPerSubResult(t *testing.T) {
	calc := NewCalculator(testRates())

	// 10.10 * 0.05 = 0.505 -> 0.51, then 0.51 * 0.10 = 0.051 -> 0.05
	got := calc.Compute(dec("10.10"), false)

	assert.True(t, got.PlatformFee.Equal(dec("0.51")), "platform fee %s", got.PlatformFee)
	assert.True(t, got.GSTOnFee.Equal(dec("0.05")), "gst %s", got.GSTOnFee)
}

func TestRatesAreInjected(t *testing.T) {
	rates := testRates()
	rates.GSTRate = decimal.Zero
	calc := NewCalculator(rates)

	got := calc.Compute(dec("100.00"), false)

	assert.True(t, got.GSTOnFee.IsZero())
	assert.True(t, got.NetToOrg.Equal(dec("91.80")), "net %s", got.NetToOrg)
}

func TestQuoteRejectsInvalidAmounts(t *testing.T) {
	calc := NewCalculator(testRates())

	_, err := calc.Quote(decimal.Zero, false)
	require.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = calc.Quote(dec("-5"), true)
	require.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = calc.Quote(dec("0.10"), false)
	require.ErrorIs(t, err, ErrAmountBelowFees)

	breakdown, err := calc.Quote(dec("0.10"), true)
	require.NoError(t, err)
	assert.False(t, breakdown.NetToOrg.IsNegative())
}

func TestCentsConversions(t *testing.T) {
	calc := NewCalculator(testRates())
	got := calc.Compute(dec("100.00"), true)

	assert.Equal(t, int64(10896), got.TotalChargeCents())
	assert.Equal(t, int64(550), got.ApplicationFeeCents())
	assert.True(t, FromCents(10896).Equal(dec("108.96")))
}

func TestMetadataCarriesFullBreakdown(t *testing.T) {
	calc := NewCalculator(testRates())
	meta := calc.Compute(dec("100.00"), false).Metadata()

	assert.Equal(t, "100.00", meta["baseAmount"])
	assert.Equal(t, "false", meta["coverFees"])
	assert.Equal(t, "5.00", meta["platformFee"])
	assert.Equal(t, "0.50", meta["gstOnFee"])
	assert.Equal(t, "3.20", meta["processorFee"])
	assert.Equal(t, "91.30", meta["netToOrg"])
	assert.Equal(t, "100.00", meta["totalCharge"])
}

// Package units converts between PKR amounts and integer token units.
//
// 10^decimals units make one PKR. Conversions toward units always floor so
// the system never issues more token value than the fiat it received.
package units

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultDecimals = 6
	MaxDecimals     = 18

	// PKRPlaces is the fiat precision of bank amounts.
	PKRPlaces = 2
)

type Converter struct {
	decimals int32
	scale    decimal.Decimal
}

func NewConverter(decimals int) (*Converter, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("token decimals must be within 0..%d, got %d", MaxDecimals, decimals)
	}
	return &Converter{
		decimals: int32(decimals),
		scale:    decimal.New(1, int32(decimals)),
	}, nil
}

func (c *Converter) Decimals() int { return int(c.decimals) }

// PKRToUnits returns floor(amount * 10^decimals). A zero result is rejected
// as well, since it would mint nothing for a positive deposit.
func (c *Converter) PKRToUnits(amount decimal.Decimal) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, domain.Errorf(domain.ErrAmountOutOfRange, "amount must be positive, got %s", amount)
	}
	u := amount.Mul(c.scale).Floor()
	if !u.BigInt().IsInt64() {
		return 0, domain.Errorf(domain.ErrAmountOutOfRange, "amount %s overflows token units", amount)
	}
	units := u.IntPart()
	if units == 0 {
		return 0, domain.Errorf(domain.ErrAmountOutOfRange, "amount %s is below one token unit", amount)
	}
	return units, nil
}

// UnitsToPKR is exact at the token precision.
func (c *Converter) UnitsToPKR(units int64) decimal.Decimal {
	return decimal.New(units, -c.decimals)
}

// UnitsToPayoutPKR floors to fiat precision for bank payouts.
func (c *Converter) UnitsToPayoutPKR(units int64) decimal.Decimal {
	return c.UnitsToPKR(units).RoundFloor(PKRPlaces)
}

// ParsePKR parses a positive decimal PKR amount with at most two
// fractional digits.
func ParsePKR(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, domain.Errorf(domain.ErrAmountOutOfRange, "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.ErrAmountOutOfRange, "unparseable amount %q", s)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, domain.Errorf(domain.ErrAmountOutOfRange, "amount must be positive, got %s", s)
	}
	if !d.Equal(d.Truncate(PKRPlaces)) {
		return decimal.Zero, domain.Errorf(domain.ErrAmountOutOfRange, "amount %s has more than %d fractional digits", s, PKRPlaces)
	}
	return d, nil
}

// FormatPKR renders an amount the way the bank expects it.
func FormatPKR(d decimal.Decimal) string {
	return d.StringFixed(PKRPlaces)
}

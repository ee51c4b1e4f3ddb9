package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// maxUint256 is the largest value representable as an unsigned 256-bit
// integer, used to bound-check amount strings at the storage boundary.
var maxUint256 = func() decimal.Decimal {
	d, err := decimal.NewFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		panic(err)
	}
	return d
}()

// ValidateAmount checks that amount is the decimal string of an unsigned
// 256-bit integer, the wire format spec.md mandates for token amounts so
// that round-tripping through storage is lossless.
func ValidateAmount(amount string) error {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("amount %q is not a valid decimal integer: %w", amount, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("amount %q is not an integer", amount)
	}
	if d.IsNegative() {
		return fmt.Errorf("amount %q is negative", amount)
	}
	if d.GreaterThan(maxUint256) {
		return fmt.Errorf("amount %q overflows uint256", amount)
	}
	return nil
}

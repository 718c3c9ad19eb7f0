package orders

import (
	"fmt"
	"math"
)

// Money represents currency in minor units (cents) to avoid float issues. DB adapters convert to/from NUMERIC(10,2).
type Money int64

// NewMoneyFromFloat2 creates Money from float64, rounding to nearest cent.
func NewMoneyFromFloat2(f float64) Money {
	return Money(math.Round(f * 100.0))
}

// String renders the decimal-string wire form ("12.50"). Event payloads
// carry money as strings, never floats, to avoid precision loss.
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

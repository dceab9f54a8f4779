package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rates is the fixed exchange table between adjacent denominations.
// The zero value is not usable; build one with NewRates or DefaultRates.
type Rates struct {
	// perNext[i] is how many Denominations[i] make one Denominations[i+1].
	perNext [3]int64
}

// DefaultRates returns 1 groot = 1000 dabbers, 1 petalin = 100 groots, 1 floren = 10 petalins.
func DefaultRates() Rates {
	return Rates{perNext: [3]int64{1000, 100, 10}}
}

// NewRates validates and builds a rate table. Every rate must be at least 2,
// otherwise normalization could never leave a remainder below one unit.
func NewRates(dabbersPerGroot, grootsPerPetalin, petalinsPerFloren int64) (Rates, error) {
	r := Rates{perNext: [3]int64{dabbersPerGroot, grootsPerPetalin, petalinsPerFloren}}
	for i, rate := range r.perNext {
		if rate < 2 {
			return Rates{}, fmt.Errorf("rate %s per %s must be at least 2, got %d",
				Denominations[i].Plural(), Denominations[i+1], rate)
		}
	}
	return r, nil
}

// PerNext returns how many units of d make one unit of the next larger denomination.
func (r Rates) PerNext(d Denomination) (int64, bool) {
	if _, ok := d.Next(); !ok {
		return 0, false
	}
	return r.perNext[d], true
}

// Rate returns the factor converting one unit of from into units of to.
// Only the six directly adjacent directed pairs are defined; up-conversions
// yield a fraction (1/rate), down-conversions the integer rate.
func (r Rates) Rate(from, to Denomination) (decimal.Decimal, error) {
	rate, up, err := r.step(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if up {
		return decimal.NewFromInt(1).DivRound(decimal.NewFromInt(rate), 16), nil
	}
	return decimal.NewFromInt(rate), nil
}

// step resolves an adjacent pair to its integer rate and direction.
func (r Rates) step(from, to Denomination) (rate int64, up bool, err error) {
	if !from.Valid() || !to.Valid() {
		return 0, false, fmt.Errorf("%w: %s to %s", ErrUnknownDenomination, from, to)
	}
	switch to - from {
	case 1:
		return r.perNext[from], true, nil
	case -1:
		return r.perNext[to], false, nil
	default:
		return 0, false, fmt.Errorf("%w: %s to %s", ErrNoConversionPath, from, to)
	}
}

// ValueOf returns the worth of one unit of d expressed in dabbers.
func (r Rates) ValueOf(d Denomination) int64 {
	value := int64(1)
	for i := Dabber; i < d; i++ {
		value *= r.perNext[i]
	}
	return value
}

// Table lists the three adjacent rates from smallest to largest pair.
func (r Rates) Table() []Pair {
	pairs := make([]Pair, 0, len(r.perNext))
	for i, rate := range r.perNext {
		pairs = append(pairs, Pair{Lower: Denominations[i], Higher: Denominations[i+1], Rate: rate})
	}
	return pairs
}

// Pair is one adjacent exchange rate: Rate units of Lower make one Higher.
type Pair struct {
	Lower  Denomination `json:"lower"`
	Higher Denomination `json:"higher"`
	Rate   int64        `json:"rate"`
}

package currency

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Denomination is one of the four units of account, ordered from smallest to largest.
type Denomination int

const (
	Dabber Denomination = iota
	Groot
	Petalin
	Floren
)

// Denominations lists every denomination from smallest to largest.
// Adjacency and ordering are taken from this slice, never from names.
var Denominations = []Denomination{Dabber, Groot, Petalin, Floren}

var denominationNames = map[Denomination]string{
	Dabber:  "dabber",
	Groot:   "groot",
	Petalin: "petalin",
	Floren:  "floren",
}

// String returns the singular lower-case name, e.g. "groot".
func (d Denomination) String() string {
	if name, ok := denominationNames[d]; ok {
		return name
	}
	return fmt.Sprintf("denomination(%d)", int(d))
}

// Plural returns the plural name used as a balance key, e.g. "groots".
func (d Denomination) Plural() string {
	return d.String() + "s"
}

// Valid reports whether d is one of the four known denominations.
func (d Denomination) Valid() bool {
	return d >= Dabber && d <= Floren
}

// Next returns the next larger denomination.
func (d Denomination) Next() (Denomination, bool) {
	if !d.Valid() || d == Floren {
		return 0, false
	}
	return d + 1, true
}

// ParseDenomination accepts singular or plural names in any case.
func ParseDenomination(s string) (Denomination, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	d, ok := lo.FindKey(denominationNames, name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDenomination, s)
	}
	return d, nil
}

// MarshalText encodes d as its singular name.
func (d Denomination) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDenomination, int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts any name ParseDenomination does.
func (d *Denomination) UnmarshalText(text []byte) error {
	parsed, err := ParseDenomination(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

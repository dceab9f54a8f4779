package currency

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RemainderPolicy decides what an up-conversion does with an amount that is
// not a whole multiple of the rate.
type RemainderPolicy string

const (
	// RemainderTruncate debits the full amount and credits the floor of
	// amount/rate; the fractional part is lost.
	RemainderTruncate RemainderPolicy = "truncate"
	// RemainderExact rejects amounts that are not a multiple of the rate.
	RemainderExact RemainderPolicy = "exact"
)

// ParseRemainderPolicy parses "truncate" or "exact".
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch p := RemainderPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RemainderTruncate, RemainderExact:
		return p, nil
	default:
		return "", fmt.Errorf("unknown remainder policy %q", s)
	}
}

// Step is one movement of value between two adjacent denominations.
type Step struct {
	From      Denomination
	To        Denomination
	Amount    int64 // debited from From
	Credited  int64 // credited to To
	Automatic bool  // produced by normalization rather than requested
}

// Direction names the movement, e.g. "dabber_to_groot".
func (s Step) Direction() string {
	return s.From.String() + "_to_" + s.To.String()
}

// Description is the human-readable line stored with the transaction record.
func (s Step) Description() string {
	if s.Automatic {
		return fmt.Sprintf("Auto-optimized %d %s into %d %s", s.Amount, s.From.Plural(), s.Credited, s.To.Plural())
	}
	return fmt.Sprintf("Converted %d %s to %d %s", s.Amount, s.From.Plural(), s.Credited, s.To.Plural())
}

// Validate checks that amount of from can be taken out of b. It never mutates b.
func Validate(b *Balance, from, to Denomination, amount int64) error {
	if b == nil {
		return ErrNoBalanceRecord
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s to %s", ErrUnknownDenomination, from, to)
	}
	if amount > b.Get(from) {
		return fmt.Errorf("%w: insufficient %s balance", ErrInsufficientFunds, from)
	}
	return nil
}

// Convert moves amount of from into to on b. Only adjacent denominations
// convert; on any error b is left untouched.
func (r Rates) Convert(b *Balance, from, to Denomination, amount int64, policy RemainderPolicy, now time.Time) (Step, error) {
	if err := Validate(b, from, to, amount); err != nil {
		return Step{}, err
	}
	rate, up, err := r.step(from, to)
	if err != nil {
		return Step{}, err
	}

	var converted int64
	if up {
		if policy == RemainderExact && amount%rate != 0 {
			return Step{}, fmt.Errorf("%w: %d %s is not a multiple of %d", ErrInvalidAmount, amount, from.Plural(), rate)
		}
		converted = amount / rate
	} else {
		if amount > math.MaxInt64/rate {
			return Step{}, fmt.Errorf("%w: %d %s overflows %s", ErrInvalidAmount, amount, from.Plural(), to.Plural())
		}
		converted = amount * rate
	}
	if converted > math.MaxInt64-b.Get(to) {
		return Step{}, fmt.Errorf("%w: %s balance would overflow", ErrInvalidAmount, to)
	}

	b.holdings[from] -= amount
	b.holdings[to] += converted
	b.LastUpdated = now

	return Step{From: from, To: to, Amount: amount, Credited: converted}, nil
}

// Normalize rolls excess holdings up into larger denominations, smallest pair
// first so that roll-ups cascade. It returns one step per roll-up and none when
// b is already normalized.
func (r Rates) Normalize(b *Balance, now time.Time) []Step {
	var steps []Step
	for _, lower := range Denominations[:len(Denominations)-1] {
		higher, _ := lower.Next()
		rate, _ := r.PerNext(lower)
		if b.holdings[lower] < rate {
			continue
		}
		moved := b.holdings[lower] / rate
		if moved > math.MaxInt64-b.holdings[higher] {
			continue
		}
		debit := moved * rate
		b.holdings[lower] -= debit
		b.holdings[higher] += moved
		steps = append(steps, Step{From: lower, To: higher, Amount: debit, Credited: moved, Automatic: true})
	}
	if len(steps) > 0 {
		b.LastUpdated = now
	}
	return steps
}

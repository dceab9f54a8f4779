package currency

import (
	"encoding/json"
	"time"
)

// Balance holds one account's counts across all four denominations.
type Balance struct {
	AccountID   int64
	LastUpdated time.Time
	holdings    [4]int64
}

// NewBalance returns a balance for account with the given counts.
func NewBalance(accountID int64, dabbers, groots, petalins, florens int64) *Balance {
	return &Balance{
		AccountID: accountID,
		holdings:  [4]int64{dabbers, groots, petalins, florens},
	}
}

// Get returns the count held in d. Unknown denominations hold nothing.
func (b *Balance) Get(d Denomination) int64 {
	if !d.Valid() {
		return 0
	}
	return b.holdings[d]
}

// Set replaces the count held in d.
func (b *Balance) Set(d Denomination, count int64) {
	if d.Valid() {
		b.holdings[d] = count
	}
}

// Holdings returns the four counts ordered smallest to largest.
func (b *Balance) Holdings() [4]int64 {
	return b.holdings
}

// Value returns the total worth of the balance in dabbers.
func (b *Balance) Value(r Rates) int64 {
	var total int64
	for _, d := range Denominations {
		total += b.holdings[d] * r.ValueOf(d)
	}
	return total
}

// IsNormalized reports whether every denomination except the largest holds
// less than one unit of the next.
func (b *Balance) IsNormalized(r Rates) bool {
	for _, d := range Denominations[:len(Denominations)-1] {
		rate, _ := r.PerNext(d)
		if b.holdings[d] >= rate {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (b *Balance) Clone() *Balance {
	c := *b
	return &c
}

type balanceJSON struct {
	AccountID   int64     `json:"accountId"`
	Dabbers     int64     `json:"dabbers"`
	Groots      int64     `json:"groots"`
	Petalins    int64     `json:"petalins"`
	Florens     int64     `json:"florens"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MarshalJSON encodes the counts under their plural names.
func (b *Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceJSON{
		AccountID:   b.AccountID,
		Dabbers:     b.holdings[Dabber],
		Groots:      b.holdings[Groot],
		Petalins:    b.holdings[Petalin],
		Florens:     b.holdings[Floren],
		LastUpdated: b.LastUpdated,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var v balanceJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	b.AccountID = v.AccountID
	b.LastUpdated = v.LastUpdated
	b.holdings = [4]int64{v.Dabbers, v.Groots, v.Petalins, v.Florens}
	return nil
}

package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/reversegremlin/harvest-market/internal/currency"
)

// RecordKind tells a user-requested conversion apart from an automatic roll-up.
type RecordKind string

const (
	RecordConversion    RecordKind = "CONVERSION"
	RecordNormalization RecordKind = "NORMALIZATION"
)

// Record is an immutable transaction history entry.
type Record struct {
	ID          uuid.UUID             `json:"id"`
	AccountID   int64                 `json:"accountId"`
	Kind        RecordKind            `json:"kind"`
	Direction   string                `json:"direction"`
	From        currency.Denomination `json:"from"`
	To          currency.Denomination `json:"to"`
	Amount      int64                 `json:"amount"`
	Credited    int64                 `json:"credited"`
	Description string                `json:"description"`
	Timestamp   time.Time             `json:"timestamp"`
}

func newRecord(accountID int64, step currency.Step, now time.Time) Record {
	kind := RecordConversion
	if step.Automatic {
		kind = RecordNormalization
	}
	return Record{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		Direction:   step.Direction(),
		From:        step.From,
		To:          step.To,
		Amount:      step.Amount,
		Credited:    step.Credited,
		Description: step.Description(),
		Timestamp:   now,
	}
}

// Summary aggregates every balance in the ledger.
type Summary struct {
	Accounts       int   `json:"accounts"`
	Dabbers        int64 `json:"dabbers"`
	Groots         int64 `json:"groots"`
	Petalins       int64 `json:"petalins"`
	Florens        int64 `json:"florens"`
	ValueInDabbers int64 `json:"valueInDabbers"`
}

// Holdings returns the summed counts ordered smallest to largest.
func (s Summary) Holdings() [4]int64 {
	return [4]int64{s.Dabbers, s.Groots, s.Petalins, s.Florens}
}

package currency

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoBalanceRecord     = errors.New("no balance record")
	ErrNoConversionPath    = errors.New("no conversion path")
	ErrPersistence         = errors.New("persistence failure")
	ErrUnknownDenomination = errors.New("unknown denomination")
	ErrBalanceExists       = errors.New("balance already exists")
)

// Kind classifies a ledger failure for callers that only need the reason.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidAmount       Kind = "InvalidAmount"
	KindInsufficientFunds   Kind = "InsufficientFunds"
	KindNoBalanceRecord     Kind = "NoBalanceRecord"
	KindNoConversionPath    Kind = "NoConversionPath"
	KindPersistenceFailure  Kind = "PersistenceFailure"
	KindUnknownDenomination Kind = "UnknownDenomination"
	KindBalanceExists       Kind = "BalanceExists"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrNoBalanceRecord, KindNoBalanceRecord},
	{ErrNoConversionPath, KindNoConversionPath},
	{ErrUnknownDenomination, KindUnknownDenomination},
	{ErrBalanceExists, KindBalanceExists},
	{ErrPersistence, KindPersistenceFailure},
}

// KindOf maps err to its Kind. Errors that match no sentinel are reported as
// persistence failures since everything else the ledger returns is classified.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindPersistenceFailure
}

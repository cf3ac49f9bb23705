package exchange

import "errors"

// Every operation failure maps to exactly one of these kinds. A failed
// operation leaves the balance table and order registry untouched.
var (
	ErrInvalidAmount          = errors.New("exchange: invalid amount")
	ErrInsufficientBalance    = errors.New("exchange: insufficient balance")
	ErrUnauthorized           = errors.New("exchange: unauthorized")
	ErrOrderNotFound          = errors.New("exchange: order not found")
	ErrOrderAlreadyFinal      = errors.New("exchange: order already cancelled or filled")
	ErrNativeAssetRejected    = errors.New("exchange: native asset not accepted here")
	ErrLedgerTransferRejected = errors.New("exchange: token ledger rejected transfer")
)

package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo reports the immutable engine configuration.
type ExchangeInfo struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
	Custody    string `json:"custody"`
}

// AssetInfo describes a registered token ledger.
type AssetInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply uint64 `json:"totalSupply"`
}

// BalanceEntry is one (asset, amount) cell of a user's escrow balances.
type BalanceEntry struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// BalancesResponse lists a user's non-zero escrow balances.
type BalancesResponse struct {
	Address  string         `json:"address"`
	Balances []BalanceEntry `json:"balances"`
}

// BalanceResponse is a single escrow balance read.
type BalanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

// OrderInfo represents an order (open or terminal).
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Maker      string `json:"maker"`
	AssetGet   string `json:"assetGet"`
	AmountGet  uint64 `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive uint64 `json:"amountGive"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"` // Unix milliseconds
}

// MakeOrderResponse carries the id assigned to a new order.
type MakeOrderResponse struct {
	ID uint64 `json:"id"`
}

// EventMessage is the envelope used for both the /events endpoint and the
// WebSocket stream.
type EventMessage struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

// ErrorResponse reports a rejected operation with its failure kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ==============================
// REST Request Types
// ==============================

// DepositRequest moves funds into exchange custody. Asset is either the
// literal "native" or a 0x token address.
type DepositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// WithdrawRequest moves funds out of exchange custody.
type WithdrawRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

// MakeOrderRequest posts a new limit order.
type MakeOrderRequest struct {
	Maker      string `json:"maker"`
	AssetGet   string `json:"assetGet"`
	AmountGet  uint64 `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive uint64 `json:"amountGive"`
}

// OrderActionRequest identifies the caller of a cancel or fill.
type OrderActionRequest struct {
	Caller string `json:"caller"`
}

// ApproveRequest grants the exchange custody account an allowance on a token
// ledger. Spender defaults to the custody account when omitted.
type ApproveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  uint64 `json:"amount"`
}

// TransferRequest moves tokens directly on a token ledger, outside custody.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

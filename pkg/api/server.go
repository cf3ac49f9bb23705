package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/purpexlabs/purpex/pkg/exchange"
	"github.com/purpexlabs/purpex/pkg/token"
)

// Server exposes the exchange engine over REST and streams its events over
// WebSocket.
type Server struct {
	engine   *exchange.Exchange
	registry *token.Registry
	router   *mux.Router
	hub      *Hub
}

// NewServer creates an API server. Wire Hub() into the engine as its event
// sink before serving traffic.
func NewServer(engine *exchange.Exchange, registry *token.Registry) *Server {
	s := &Server{
		engine:   engine,
		registry: registry,
		router:   mux.NewRouter(),
		hub:      NewHub(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub, which implements exchange.EventSink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Engine configuration
	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")

	// Escrow
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/balances/{address}", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/balances/{address}/{asset}", s.handleGetBalance).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// Token ledgers
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/{asset}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/assets/{asset}/transfer", s.handleTransfer).Methods("POST")
	api.HandleFunc("/assets/{asset}/balances/{address}", s.handleGetTokenBalance).Methods("GET")

	// Event journal
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.hub.ServeWS)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ExchangeInfo{
		FeeAccount: s.engine.FeeAccount().Hex(),
		FeePercent: s.engine.FeePercent(),
		Custody:    s.engine.Custody().Hex(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if req.Asset == "native" {
		// The deposit request stands in for the host's value transfer: the
		// amount credited is the amount delivered.
		if err := s.engine.DepositNative(user, req.Amount); err != nil {
			writeError(w, err)
			return
		}
	} else {
		asset, err := parseAddress(req.Asset)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if err := s.engine.DepositToken(asset, user, req.Amount); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if req.Asset == "native" {
		err = s.engine.WithdrawNative(user, req.Amount)
	} else {
		var asset common.Address
		asset, err = parseAddress(req.Asset)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		err = s.engine.WithdrawToken(asset, user, req.Amount)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	balances := s.engine.BalancesFor(user)
	resp := BalancesResponse{Address: user.Hex(), Balances: make([]BalanceEntry, 0, len(balances))}
	for asset, amount := range balances {
		resp.Balances = append(resp.Balances, BalanceEntry{Asset: asset.Hex(), Amount: amount})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, err := parseAddress(vars["address"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	asset, err := parseAsset(vars["asset"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Address: user.Hex(),
		Asset:   asset.Hex(),
		Amount:  s.engine.BalanceOf(asset, user),
	})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	assetGet, err := parseAsset(req.AssetGet)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	assetGive, err := parseAsset(req.AssetGive)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id, err := s.engine.MakeOrder(maker, assetGet, req.AmountGet, assetGive, req.AmountGive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MakeOrderResponse{ID: id})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	orders := s.engine.Orders()
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		if status != "" && o.Status.String() != status {
			continue
		}
		out = append(out, orderInfo(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid order id")
		return
	}

	o, err := s.engine.Order(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.engine.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.engine.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(uint64, common.Address) error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid order id")
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := action(id, caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	ledgers := s.registry.List()
	out := make([]AssetInfo, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, AssetInfo{
			Address:     l.Address().Hex(),
			Name:        l.Name(),
			Symbol:      l.Symbol(),
			Decimals:    l.Decimals(),
			TotalSupply: l.TotalSupply(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	led, ok := s.ledgerFromPath(w, r)
	if !ok {
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	spender := s.engine.Custody()
	if req.Spender != "" {
		if spender, err = parseAddress(req.Spender); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	if err := led.Approve(owner, spender, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	led, ok := s.ledgerFromPath(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := led.Transfer(from, to, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	led, ok := s.ledgerFromPath(w, r)
	if !ok {
		return
	}
	user, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Address: user.Hex(),
		Asset:   led.Address().Hex(),
		Amount:  led.BalanceOf(user),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid since parameter")
			return
		}
		since = parsed
	}

	events := s.engine.Events(since)
	out := make([]EventMessage, 0, len(events))
	for _, ev := range events {
		out = append(out, EventMessage{Type: ev.Type(), Event: ev})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) ledgerFromPath(w http.ResponseWriter, r *http.Request) (*token.Ledger, bool) {
	asset, err := parseAddress(mux.Vars(r)["asset"])
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	led, err := s.registry.Get(asset)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return led, true
}

func orderInfo(o exchange.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Maker:      o.Maker.Hex(),
		AssetGet:   o.AssetGet.Hex(),
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive.Hex(),
		AmountGive: o.AmountGive,
		Status:     o.Status.String(),
		Timestamp:  o.Timestamp,
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAsset accepts the literal "native" for the native-asset sentinel, or
// a 0x token address.
func parseAsset(s string) (common.Address, error) {
	if s == "native" {
		return exchange.NativeAsset, nil
	}
	return parseAddress(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "bad_request"})
}

// writeError maps an engine/ledger failure kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound), errors.Is(err, token.ErrAssetNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, exchange.ErrUnauthorized):
		status, kind = http.StatusForbidden, "unauthorized"
	case errors.Is(err, exchange.ErrOrderAlreadyFinal):
		status, kind = http.StatusConflict, "already_final"
	case errors.Is(err, exchange.ErrNativeAssetRejected):
		status, kind = http.StatusBadRequest, "native_asset_rejected"
	case errors.Is(err, exchange.ErrInvalidAmount):
		status, kind = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, token.ErrInsufficientAllowance):
		status, kind = http.StatusUnprocessableEntity, "insufficient_allowance"
	case errors.Is(err, exchange.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientBalance):
		status, kind = http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, exchange.ErrLedgerTransferRejected):
		status, kind = http.StatusUnprocessableEntity, "ledger_transfer_rejected"
	case errors.Is(err, token.ErrInvalidRecipient):
		status, kind = http.StatusBadRequest, "invalid_recipient"
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

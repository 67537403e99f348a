package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	marketerrors "itemescrow/core/errors"
	"itemescrow/gateway/middleware"
	"itemescrow/integrations/eventlog"
	"itemescrow/native/market"
)

const (
	maxBodyBytes      = 64 << 10
	defaultPageLimit  = 20
	defaultEventLimit = 50
)

// Market is the engine surface served over HTTP.
type Market interface {
	List(ctx context.Context, seller common.Address, name, description string, price *big.Int) (uint64, error)
	Remove(ctx context.Context, caller common.Address, id uint64) error
	Purchase(ctx context.Context, buyer common.Address, id uint64, paid *big.Int) (*market.Receipt, error)
	ConfirmDelivery(ctx context.Context, caller common.Address, id uint64) error
	Withdraw(ctx context.Context, caller common.Address) (*big.Int, error)
	SetFee(ctx context.Context, caller common.Address, feeBps uint32) error
	EmergencySweep(ctx context.Context, caller common.Address) (*big.Int, error)
	SetPaused(ctx context.Context, caller common.Address, paused bool) error

	Item(id uint64) (*market.Item, error)
	SellerItems(seller common.Address) ([]uint64, error)
	BuyerPurchases(buyer common.Address) ([]uint64, error)
	Earnings(addr common.Address) (*big.Int, error)
	ActiveItems(start uint64, limit int) ([]*market.Item, error)
	ActiveItemIDs(start uint64, limit int) ([]uint64, error)
	AllActive() ([]*market.Item, error)
	Stats() (*market.Stats, error)
}

type marketRoutes struct {
	market Market
	events EventSource
	logger *slog.Logger
}

type itemResponse struct {
	ID                uint64 `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Price             string `json:"price"`
	Seller            string `json:"seller"`
	Buyer             string `json:"buyer,omitempty"`
	ListedAt          uint64 `json:"listedAt"`
	State             string `json:"state"`
	DeliveryConfirmed bool   `json:"deliveryConfirmed"`
}

type receiptResponse struct {
	ItemID    uint64 `json:"itemId"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Price     string `json:"price"`
	Fee       string `json:"fee"`
	SellerNet string `json:"sellerNet"`
	FeeBps    uint32 `json:"feeBps"`
}

type statsResponse struct {
	TotalItems      uint64 `json:"totalItems"`
	FeeBps          uint32 `json:"feeBps"`
	Paused          bool   `json:"paused"`
	Owner           string `json:"owner"`
	ContractBalance string `json:"contractBalance"`
	Escrowed        string `json:"escrowed"`
	Received        string `json:"received"`
	FeesPaid        string `json:"feesPaid"`
	Withdrawn       string `json:"withdrawn"`
	Swept           string `json:"swept"`
}

type listRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type purchaseRequest struct {
	Amount string `json:"amount"`
}

type feeRequest struct {
	FeeBps *uint32 `json:"feeBps"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

func (mr *marketRoutes) mountPublic(r chi.Router) {
	r.Get("/items/active", mr.activeItems)
	r.Get("/items/active/all", mr.allActive)
	r.Get("/items/active/ids", mr.activeItemIDs)
	r.Get("/items/{id}", mr.getItem)
	r.Get("/earnings/{addr}", mr.earnings)
	r.Get("/sellers/{addr}/items", mr.sellerItems)
	r.Get("/buyers/{addr}/purchases", mr.buyerPurchases)
	r.Get("/stats", mr.stats)
	r.Get("/events", mr.recentEvents)
}

func (mr *marketRoutes) mountAuthenticated(r chi.Router) {
	r.Post("/items", mr.listItem)
	r.Delete("/items/{id}", mr.removeItem)
	r.Post("/items/{id}/purchase", mr.purchase)
	r.Post("/items/{id}/deliver", mr.confirmDelivery)
	r.Post("/earnings/withdraw", mr.withdraw)
	r.Put("/admin/fee", mr.setFee)
	r.Post("/admin/sweep", mr.sweep)
	r.Put("/admin/pause", mr.setPaused)
}

func (mr *marketRoutes) listItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req listRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := mr.market.List(r.Context(), caller, req.Name, req.Description, price)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (mr *marketRoutes) removeItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, err := itemIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.market.Remove(r.Context(), caller, id); err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketRoutes) purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, err := itemIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req purchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	paid, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	receipt, err := mr.market.Purchase(r.Context(), caller, id, paid)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		ItemID:    receipt.ItemID,
		Buyer:     receipt.Buyer.Hex(),
		Seller:    receipt.Seller.Hex(),
		Price:     receipt.Price.String(),
		Fee:       receipt.Fee.String(),
		SellerNet: receipt.SellerNet.String(),
		FeeBps:    receipt.FeeBps,
	})
}

func (mr *marketRoutes) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, err := itemIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := mr.market.ConfirmDelivery(r.Context(), caller, id); err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	amount, err := mr.market.Withdraw(r.Context(), caller)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (mr *marketRoutes) setFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.FeeBps == nil {
		writeBadRequest(w, errors.New("feeBps is required"))
		return
	}
	if err := mr.market.SetFee(r.Context(), caller, *req.FeeBps); err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketRoutes) sweep(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	amount, err := mr.market.EmergencySweep(r.Context(), caller)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (mr *marketRoutes) setPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Paused == nil {
		writeBadRequest(w, errors.New("paused is required"))
		return
	}
	if err := mr.market.SetPaused(r.Context(), caller, *req.Paused); err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mr *marketRoutes) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := mr.market.Item(id)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (mr *marketRoutes) activeItems(w http.ResponseWriter, r *http.Request) {
	start, limit, ok := mr.pageParams(w, r)
	if !ok {
		return
	}
	items, err := mr.market.ActiveItems(start, limit)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

func (mr *marketRoutes) activeItemIDs(w http.ResponseWriter, r *http.Request) {
	start, limit, ok := mr.pageParams(w, r)
	if !ok {
		return
	}
	ids, err := mr.market.ActiveItemIDs(start, limit)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (mr *marketRoutes) pageParams(w http.ResponseWriter, r *http.Request) (uint64, int, bool) {
	start, err := queryUint(r, "start", 0)
	if err != nil {
		writeBadRequest(w, err)
		return 0, 0, false
	}
	limit, err := queryUint(r, "limit", defaultPageLimit)
	if err != nil {
		writeBadRequest(w, err)
		return 0, 0, false
	}
	if limit > market.MaxPageSize {
		mr.writeMarketError(w, r, marketerrors.ErrInvalidLimit)
		return 0, 0, false
	}
	return start, int(limit), true
}

func (mr *marketRoutes) allActive(w http.ResponseWriter, r *http.Request) {
	items, err := mr.market.AllActive()
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponses(items))
}

func (mr *marketRoutes) earnings(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := mr.market.Earnings(addr)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex(), "earnings": balance.String()})
}

func (mr *marketRoutes) sellerItems(w http.ResponseWriter, r *http.Request) {
	mr.writeIndex(w, r, mr.market.SellerItems)
}

func (mr *marketRoutes) buyerPurchases(w http.ResponseWriter, r *http.Request) {
	mr.writeIndex(w, r, mr.market.BuyerPurchases)
}

func (mr *marketRoutes) writeIndex(w http.ResponseWriter, r *http.Request, lookup func(common.Address) ([]uint64, error)) {
	addr, err := addressParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ids, err := lookup(addr)
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (mr *marketRoutes) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := mr.market.Stats()
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	t := stats.Treasury.Clone()
	writeJSON(w, http.StatusOK, statsResponse{
		TotalItems:      stats.TotalItems,
		FeeBps:          stats.FeeBps,
		Paused:          stats.Paused,
		Owner:           stats.Owner.Hex(),
		ContractBalance: t.Custody.String(),
		Escrowed:        t.Escrowed.String(),
		Received:        t.Received.String(),
		FeesPaid:        t.FeesPaid.String(),
		Withdrawn:       t.Withdrawn.String(),
		Swept:           t.Swept.String(),
	})
}

func (mr *marketRoutes) recentEvents(w http.ResponseWriter, r *http.Request) {
	if mr.events == nil {
		writeJSONError(w, http.StatusNotFound, "NotFound", errors.New("event log not configured"))
		return
	}
	limit, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := mr.events.Recent(r.Context(), int(limit))
	if errors.Is(err, eventlog.ErrInvalidLimit) {
		writeBadRequest(w, err)
		return
	}
	if err != nil {
		mr.writeMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func toItemResponse(item *market.Item) itemResponse {
	resp := itemResponse{
		ID:                item.ID,
		Name:              item.Name,
		Description:       item.Description,
		Price:             item.Price.String(),
		Seller:            item.Seller.Hex(),
		ListedAt:          item.ListedAt,
		State:             item.State.String(),
		DeliveryConfirmed: item.DeliveryConfirmed,
	}
	if item.HasBuyer() {
		resp.Buyer = item.Buyer.Hex()
	}
	return resp
}

func toItemResponses(items []*market.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	return out
}

// statusFor maps a market error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "EmptyName", "ZeroPrice", "FeeTooHigh", "InvalidLimit", "ValidationError":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "Unauthorized", "SelfPurchase":
		return http.StatusForbidden
	case "InvalidState", "AlreadyDelivered", "NoEarnings":
		return http.StatusConflict
	case "PaymentMismatch":
		return http.StatusUnprocessableEntity
	case "TransferFailed":
		return http.StatusBadGateway
	case "Paused":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (mr *marketRoutes) writeMarketError(w http.ResponseWriter, r *http.Request, err error) {
	kind := marketerrors.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		mr.logger.Error("market request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	if kind == "internal" {
		err = errors.New(http.StatusText(status))
	}
	writeJSONError(w, status, kind, err)
}

func callerOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Unauthenticated", errors.New("caller identity missing"))
	}
	return caller, ok
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func itemIDParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}

func addressParam(r *http.Request) (common.Address, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "addr"))
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "ValidationError", err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

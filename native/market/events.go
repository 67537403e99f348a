package market

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"itemescrow/core/types"
)

const (
	EventTypeItemListed        = "market.item.listed"
	EventTypeItemPurchased     = "market.item.purchased"
	EventTypeItemDelivered     = "market.item.delivered"
	EventTypeItemRemoved       = "market.item.removed"
	EventTypeEarningsWithdrawn = "market.earnings.withdrawn"
	EventTypeFeeUpdated        = "market.fee.updated"
	EventTypeFundsSwept        = "market.funds.swept"
	EventTypePaused            = "market.paused"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewItemListedEvent returns the canonical payload for a new listing.
func NewItemListedEvent(item *Item) *types.Event {
	attrs := itemAttributes(item)
	if item != nil {
		attrs["name"] = item.Name
		attrs["listedAt"] = strconv.FormatUint(item.ListedAt, 10)
	}
	return &types.Event{Type: EventTypeItemListed, Attributes: attrs}
}

// NewItemPurchasedEvent returns the payload emitted once a purchase settles.
func NewItemPurchasedEvent(r *Receipt) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["id"] = strconv.FormatUint(r.ItemID, 10)
		attrs["buyer"] = r.Buyer.Hex()
		attrs["seller"] = r.Seller.Hex()
		attrs["price"] = amountString(r.Price)
		attrs["fee"] = amountString(r.Fee)
		attrs["sellerNet"] = amountString(r.SellerNet)
		attrs["feeBps"] = strconv.FormatUint(uint64(r.FeeBps), 10)
	}
	return &types.Event{Type: EventTypeItemPurchased, Attributes: attrs}
}

// NewItemDeliveredEvent returns the payload emitted when a buyer confirms delivery.
func NewItemDeliveredEvent(item *Item) *types.Event {
	attrs := make(map[string]string)
	if item != nil {
		attrs["id"] = strconv.FormatUint(item.ID, 10)
		attrs["buyer"] = item.Buyer.Hex()
	}
	return &types.Event{Type: EventTypeItemDelivered, Attributes: attrs}
}

// NewItemRemovedEvent returns the payload emitted when a seller delists an item.
func NewItemRemovedEvent(item *Item) *types.Event {
	attrs := make(map[string]string)
	if item != nil {
		attrs["id"] = strconv.FormatUint(item.ID, 10)
		attrs["seller"] = item.Seller.Hex()
	}
	return &types.Event{Type: EventTypeItemRemoved, Attributes: attrs}
}

// NewEarningsWithdrawnEvent returns the payload for a seller withdrawal.
func NewEarningsWithdrawnEvent(seller common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeEarningsWithdrawn, Attributes: map[string]string{
		"seller": seller.Hex(),
		"amount": amountString(amount),
	}}
}

// NewFeeUpdatedEvent returns the payload for a fee rate change.
func NewFeeUpdatedEvent(oldBps, newBps uint32) *types.Event {
	return &types.Event{Type: EventTypeFeeUpdated, Attributes: map[string]string{
		"oldFeeBps": strconv.FormatUint(uint64(oldBps), 10),
		"newFeeBps": strconv.FormatUint(uint64(newBps), 10),
	}}
}

// NewFundsSweptEvent returns the payload for an emergency sweep.
func NewFundsSweptEvent(owner common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFundsSwept, Attributes: map[string]string{
		"owner":  owner.Hex(),
		"amount": amountString(amount),
	}}
}

// NewPausedEvent returns the payload for a pause toggle.
func NewPausedEvent(paused bool) *types.Event {
	return &types.Event{Type: EventTypePaused, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

func itemAttributes(item *Item) map[string]string {
	attrs := make(map[string]string)
	if item == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(item.ID, 10)
	attrs["seller"] = item.Seller.Hex()
	attrs["price"] = amountString(item.Price)
	return attrs
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

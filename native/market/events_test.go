package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPurchasedEventAttributes(t *testing.T) {
	receipt := &Receipt{
		ItemID:    7,
		Buyer:     common.HexToAddress("0x02"),
		Seller:    common.HexToAddress("0x01"),
		Price:     big.NewInt(100_000),
		Fee:       big.NewInt(2_500),
		SellerNet: big.NewInt(97_500),
		FeeBps:    250,
	}
	evt := NewItemPurchasedEvent(receipt)
	if evt.Type != EventTypeItemPurchased {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	want := map[string]string{
		"id":        "7",
		"buyer":     receipt.Buyer.Hex(),
		"seller":    receipt.Seller.Hex(),
		"price":     "100000",
		"fee":       "2500",
		"sellerNet": "97500",
		"feeBps":    "250",
	}
	for key, value := range want {
		if evt.Attributes[key] != value {
			t.Fatalf("attribute %s: expected %s, got %s", key, value, evt.Attributes[key])
		}
	}
}

func TestListedEventAttributes(t *testing.T) {
	item := &Item{ID: 3, Name: "Lamp", Price: big.NewInt(12), Seller: common.HexToAddress("0x01"), ListedAt: 99}
	evt := NewItemListedEvent(item)
	if evt.Attributes["name"] != "Lamp" || evt.Attributes["price"] != "12" || evt.Attributes["listedAt"] != "99" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
	wrapped := marketEvent{evt: evt}
	if wrapped.EventType() != EventTypeItemListed || wrapped.Event() != evt {
		t.Fatalf("wrapper must expose the underlying record")
	}
}

func TestNilSafeConstructors(t *testing.T) {
	if evt := NewItemPurchasedEvent(nil); evt.Type != EventTypeItemPurchased || len(evt.Attributes) != 0 {
		t.Fatalf("unexpected nil receipt event %+v", evt)
	}
	if evt := NewEarningsWithdrawnEvent(common.Address{}, nil); evt.Attributes["amount"] != "0" {
		t.Fatalf("nil amount should render as 0")
	}
	if (marketEvent{}).EventType() != "" {
		t.Fatalf("empty wrapper should have no type")
	}
}

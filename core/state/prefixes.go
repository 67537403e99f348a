package state

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	marketCounterKeyBytes  = []byte("market/counter")
	marketFeeKeyBytes      = []byte("market/fee")
	marketPausedKeyBytes   = []byte("market/paused")
	marketTreasuryKeyBytes = []byte("market/treasury")
)

const (
	marketItemKeyFormat     = "market/item/%d"
	marketSellerKeyFormat   = "market/seller/%s"
	marketBuyerKeyFormat    = "market/buyer/%s"
	marketEarningsKeyFormat = "market/earnings/%s"
)

// MarketItemKey returns the key holding the item with the given id.
func MarketItemKey(id uint64) []byte {
	return []byte(fmt.Sprintf(marketItemKeyFormat, id))
}

// MarketSellerIndexKey returns the key of the seller's listing index.
func MarketSellerIndexKey(seller common.Address) []byte {
	return []byte(fmt.Sprintf(marketSellerKeyFormat, addrKey(seller)))
}

// MarketBuyerIndexKey returns the key of the buyer's purchase index.
func MarketBuyerIndexKey(buyer common.Address) []byte {
	return []byte(fmt.Sprintf(marketBuyerKeyFormat, addrKey(buyer)))
}

// MarketEarningsKey returns the key of the party's withdrawable balance.
func MarketEarningsKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf(marketEarningsKeyFormat, addrKey(addr)))
}

func MarketCounterKey() []byte  { return append([]byte(nil), marketCounterKeyBytes...) }
func MarketFeeKey() []byte      { return append([]byte(nil), marketFeeKeyBytes...) }
func MarketPausedKey() []byte   { return append([]byte(nil), marketPausedKeyBytes...) }
func MarketTreasuryKey() []byte { return append([]byte(nil), marketTreasuryKeyBytes...) }

func addrKey(addr common.Address) string {
	return strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x"))
}

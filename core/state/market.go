package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"itemescrow/native/market"
)

var _ market.Ledger = (*Manager)(nil)
var _ market.LedgerTx = (*tx)(nil)

type storedItem struct {
	ID                uint64
	Name              string
	Description       string
	Price             *big.Int
	Seller            common.Address
	Buyer             common.Address
	ListedAt          uint64
	State             uint8
	DeliveryConfirmed bool
}

func newStoredItem(item *market.Item) *storedItem {
	return &storedItem{
		ID:                item.ID,
		Name:              item.Name,
		Description:       item.Description,
		Price:             new(big.Int).Set(item.Price),
		Seller:            item.Seller,
		Buyer:             item.Buyer,
		ListedAt:          item.ListedAt,
		State:             uint8(item.State),
		DeliveryConfirmed: item.DeliveryConfirmed,
	}
}

func (s *storedItem) toItem() *market.Item {
	return &market.Item{
		ID:                s.ID,
		Name:              s.Name,
		Description:       s.Description,
		Price:             s.Price,
		Seller:            s.Seller,
		Buyer:             s.Buyer,
		ListedAt:          s.ListedAt,
		State:             market.ItemState(s.State),
		DeliveryConfirmed: s.DeliveryConfirmed,
	}
}

type storedTreasury struct {
	Custody   *big.Int
	Escrowed  *big.Int
	Received  *big.Int
	FeesPaid  *big.Int
	Withdrawn *big.Int
	Swept     *big.Int
}

func (t *tx) NextItemID() (uint64, error) {
	current, err := t.ItemCount()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if next == 0 {
		return 0, fmt.Errorf("state: item id space exhausted")
	}
	if err := t.kvPut(MarketCounterKey(), next); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *tx) ItemCount() (uint64, error) {
	var count uint64
	if _, err := t.kvGet(MarketCounterKey(), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *tx) ItemGet(id uint64) (*market.Item, bool, error) {
	var stored storedItem
	ok, err := t.kvGet(MarketItemKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	item, err := market.SanitizeItem(stored.toItem())
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (t *tx) ItemPut(item *market.Item) error {
	sanitized, err := market.SanitizeItem(item)
	if err != nil {
		return err
	}
	return t.kvPut(MarketItemKey(sanitized.ID), newStoredItem(sanitized))
}

func (t *tx) indexAppend(key []byte, id uint64) error {
	var ids []uint64
	if err := t.kvGetList(key, &ids); err != nil {
		return err
	}
	ids = append(ids, id)
	return t.kvPut(key, ids)
}

func (t *tx) index(key []byte) ([]uint64, error) {
	var ids []uint64
	if err := t.kvGetList(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *tx) SellerIndexAppend(seller common.Address, id uint64) error {
	return t.indexAppend(MarketSellerIndexKey(seller), id)
}

func (t *tx) SellerIndex(seller common.Address) ([]uint64, error) {
	return t.index(MarketSellerIndexKey(seller))
}

func (t *tx) BuyerIndexAppend(buyer common.Address, id uint64) error {
	return t.indexAppend(MarketBuyerIndexKey(buyer), id)
}

func (t *tx) BuyerIndex(buyer common.Address) ([]uint64, error) {
	return t.index(MarketBuyerIndexKey(buyer))
}

func (t *tx) Earnings(addr common.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := t.kvGet(MarketEarningsKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetEarnings stores the balance. A zero balance removes the key.
func (t *tx) SetEarnings(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return t.kvDelete(MarketEarningsKey(addr))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative earnings for %s", addr.Hex())
	}
	return t.kvPut(MarketEarningsKey(addr), amount)
}

func (t *tx) FeeRate() (uint32, error) {
	var bps uint32
	if _, err := t.kvGet(MarketFeeKey(), &bps); err != nil {
		return 0, err
	}
	return bps, nil
}

func (t *tx) FeeRateConfigured() (bool, error) {
	return t.kvGet(MarketFeeKey(), nil)
}

func (t *tx) SetFeeRate(bps uint32) error {
	return t.kvPut(MarketFeeKey(), bps)
}

func (t *tx) Paused() (bool, error) {
	var paused bool
	if _, err := t.kvGet(MarketPausedKey(), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (t *tx) SetPaused(paused bool) error {
	return t.kvPut(MarketPausedKey(), paused)
}

func (t *tx) Treasury() (*market.Treasury, error) {
	var stored storedTreasury
	ok, err := t.kvGet(MarketTreasuryKey(), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return market.NewTreasury(), nil
	}
	return (&market.Treasury{
		Custody:   stored.Custody,
		Escrowed:  stored.Escrowed,
		Received:  stored.Received,
		FeesPaid:  stored.FeesPaid,
		Withdrawn: stored.Withdrawn,
		Swept:     stored.Swept,
	}).Clone(), nil
}

func (t *tx) SetTreasury(treasury *market.Treasury) error {
	c := treasury.Clone()
	return t.kvPut(MarketTreasuryKey(), &storedTreasury{
		Custody:   c.Custody,
		Escrowed:  c.Escrowed,
		Received:  c.Received,
		FeesPaid:  c.FeesPaid,
		Withdrawn: c.Withdrawn,
		Swept:     c.Swept,
	})
}

package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
)

// MaxPageSize bounds the number of items returned by ActiveItems.
const MaxPageSize = 100

// Stats aggregates the market-wide figures exposed to observers.
type Stats struct {
	TotalItems uint64
	FeeBps     uint32
	Paused     bool
	Owner      common.Address
	Treasury   *Treasury
}

func (e *Engine) view(fn func(LedgerTx) error) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	return e.ledger.View(fn)
}

// Item returns a copy of the stored item.
func (e *Engine) Item(id uint64) (*Item, error) {
	var item *Item
	err := e.view(func(tx LedgerTx) error {
		var err error
		item, err = loadItem(tx, id)
		return err
	})
	return item, err
}

// SellerItems returns the identifiers listed by seller in listing order.
// Removed and sold items remain in the index.
func (e *Engine) SellerItems(seller common.Address) ([]uint64, error) {
	var ids []uint64
	err := e.view(func(tx LedgerTx) error {
		var err error
		ids, err = tx.SellerIndex(seller)
		return err
	})
	return ids, err
}

// BuyerPurchases returns the identifiers bought by buyer in purchase order.
func (e *Engine) BuyerPurchases(buyer common.Address) ([]uint64, error) {
	var ids []uint64
	err := e.view(func(tx LedgerTx) error {
		var err error
		ids, err = tx.BuyerIndex(buyer)
		return err
	})
	return ids, err
}

// Earnings returns the withdrawable balance of addr.
func (e *Engine) Earnings(addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := e.view(func(tx LedgerTx) error {
		var err error
		balance, err = tx.Earnings(addr)
		return err
	})
	return balance, err
}

// ActiveItems pages through active items in ascending id order. start is the
// ordinal position among active items, not an item id. A start past the end
// yields an empty page.
func (e *Engine) ActiveItems(start uint64, limit int) ([]*Item, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: %d", marketerrors.ErrInvalidLimit, limit)
	}
	page := make([]*Item, 0, limit)
	err := e.view(func(tx LedgerTx) error {
		var skipped uint64
		return scanActive(tx, func(item *Item) bool {
			if skipped < start {
				skipped++
				return true
			}
			page = append(page, item)
			return len(page) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ActiveItemIDs is the id-only form of ActiveItems.
func (e *Engine) ActiveItemIDs(start uint64, limit int) ([]uint64, error) {
	items, err := e.ActiveItems(start, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids, nil
}

// AllActive returns every active item in ascending id order.
func (e *Engine) AllActive() ([]*Item, error) {
	var items []*Item
	err := e.view(func(tx LedgerTx) error {
		return scanActive(tx, func(item *Item) bool {
			items = append(items, item)
			return true
		})
	})
	return items, err
}

func scanActive(tx LedgerTx, visit func(*Item) bool) error {
	count, err := tx.ItemCount()
	if err != nil {
		return err
	}
	for id := uint64(1); id <= count; id++ {
		item, ok, err := tx.ItemGet(id)
		if err != nil {
			return err
		}
		if !ok || item.State != ItemActive {
			continue
		}
		if !visit(item) {
			return nil
		}
	}
	return nil
}

// TotalItems returns the number of identifiers ever allocated.
func (e *Engine) TotalItems() (uint64, error) {
	var count uint64
	err := e.view(func(tx LedgerTx) error {
		var err error
		count, err = tx.ItemCount()
		return err
	})
	return count, err
}

// ContractBalance returns the funds currently held in custody.
func (e *Engine) ContractBalance() (*big.Int, error) {
	t, err := e.Treasury()
	if err != nil {
		return nil, err
	}
	return t.Custody, nil
}

// Treasury returns a copy of the custody accounting record.
func (e *Engine) Treasury() (*Treasury, error) {
	var treasury *Treasury
	err := e.view(func(tx LedgerTx) error {
		var err error
		treasury, err = tx.Treasury()
		return err
	})
	return treasury, err
}

// FeeRate returns the current platform fee in basis points.
func (e *Engine) FeeRate() (uint32, error) {
	var rate uint32
	err := e.view(func(tx LedgerTx) error {
		var err error
		rate, err = tx.FeeRate()
		return err
	})
	return rate, err
}

// Paused reports whether the pause switch is engaged.
func (e *Engine) Paused() (bool, error) {
	var paused bool
	err := e.view(func(tx LedgerTx) error {
		var err error
		paused, err = tx.Paused()
		return err
	})
	return paused, err
}

// Stats returns a consistent snapshot of the market-wide figures.
func (e *Engine) Stats() (*Stats, error) {
	stats := &Stats{Owner: e.Owner()}
	err := e.view(func(tx LedgerTx) error {
		var err error
		if stats.TotalItems, err = tx.ItemCount(); err != nil {
			return err
		}
		if stats.FeeBps, err = tx.FeeRate(); err != nil {
			return err
		}
		if stats.Paused, err = tx.Paused(); err != nil {
			return err
		}
		stats.Treasury, err = tx.Treasury()
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

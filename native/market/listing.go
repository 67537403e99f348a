package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
	"itemescrow/core/types"
)

// List publishes a new item owned by seller and returns its identifier.
// Identifiers start at 1 and are never reused.
func (e *Engine) List(ctx context.Context, seller common.Address, name, description string, price *big.Int) (uint64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, marketerrors.ErrEmptyName
	}
	if price == nil || price.Sign() <= 0 {
		return 0, marketerrors.ErrZeroPrice
	}
	if seller == (common.Address{}) {
		return 0, fmt.Errorf("%w: seller address required", marketerrors.ErrValidation)
	}
	var id uint64
	err := e.commit("list", func(tx LedgerTx) (*types.Event, error) {
		if err := guardPaused(tx); err != nil {
			return nil, err
		}
		next, err := tx.NextItemID()
		if err != nil {
			return nil, err
		}
		item := &Item{
			ID:          next,
			Name:        name,
			Description: description,
			Price:       new(big.Int).Set(price),
			Seller:      seller,
			ListedAt:    uint64(e.now()),
			State:       ItemActive,
		}
		if err := tx.ItemPut(item); err != nil {
			return nil, err
		}
		if err := tx.SellerIndexAppend(seller, next); err != nil {
			return nil, err
		}
		id = next
		return NewItemListedEvent(item), nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Remove delists an active item. Only the seller may remove it and sold or
// already removed items cannot be removed.
func (e *Engine) Remove(ctx context.Context, caller common.Address, id uint64) error {
	return e.commit("remove", func(tx LedgerTx) (*types.Event, error) {
		if err := guardPaused(tx); err != nil {
			return nil, err
		}
		item, err := loadItem(tx, id)
		if err != nil {
			return nil, err
		}
		if err := authorize(RoleSeller, e.owner, caller, item); err != nil {
			return nil, err
		}
		if item.State != ItemActive {
			return nil, fmt.Errorf("%w: item %d is %s", marketerrors.ErrInvalidState, id, item.State)
		}
		item.State = ItemRemoved
		if err := tx.ItemPut(item); err != nil {
			return nil, err
		}
		return NewItemRemovedEvent(item), nil
	})
}

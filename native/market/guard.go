package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
	nativecommon "itemescrow/native/common"
)

// Role names the predicate a mutating operation requires of its caller.
type Role uint8

const (
	RoleOwner Role = iota + 1
	RoleSeller
	RoleBuyer
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// IsOwner reports whether caller is the platform owner.
func IsOwner(owner, caller common.Address) bool {
	return nativecommon.SameParty(caller, owner)
}

// IsSellerOf reports whether caller listed the item.
func IsSellerOf(item *Item, caller common.Address) bool {
	return item != nil && nativecommon.SameParty(caller, item.Seller)
}

// IsBuyerOf reports whether caller purchased the item.
func IsBuyerOf(item *Item, caller common.Address) bool {
	return item.HasBuyer() && nativecommon.SameParty(caller, item.Buyer)
}

// authorize evaluates role against caller. It never mutates state and is
// always evaluated before any write in the enclosing transaction.
func authorize(role Role, owner, caller common.Address, item *Item) error {
	var ok bool
	switch role {
	case RoleOwner:
		ok = IsOwner(owner, caller)
	case RoleSeller:
		ok = IsSellerOf(item, caller)
	case RoleBuyer:
		ok = IsBuyerOf(item, caller)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not %s", marketerrors.ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}

type ledgerPauses struct {
	tx LedgerTx
}

// IsPaused fails closed: an unreadable flag counts as paused.
func (p ledgerPauses) IsPaused(module string) bool {
	if module != ModuleName {
		return false
	}
	paused, err := p.tx.Paused()
	if err != nil {
		return true
	}
	return paused
}

func guardPaused(tx LedgerTx) error {
	if err := nativecommon.Guard(ledgerPauses{tx: tx}, ModuleName); err != nil {
		return fmt.Errorf("%w: %w", marketerrors.ErrMarketPaused, err)
	}
	return nil
}

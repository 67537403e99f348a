package market

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
)

// ModuleName identifies the market module for pause checks and metrics.
const ModuleName = "market"

// ItemState represents the listing lifecycle. Sold and Removed are terminal.
type ItemState uint8

const (
	ItemActive ItemState = iota + 1
	ItemSold
	ItemRemoved
)

// Valid reports whether the state value is within the supported range.
func (s ItemState) Valid() bool {
	switch s {
	case ItemActive, ItemSold, ItemRemoved:
		return true
	default:
		return false
	}
}

func (s ItemState) String() string {
	switch s {
	case ItemActive:
		return "active"
	case ItemSold:
		return "sold"
	case ItemRemoved:
		return "removed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Item captures a single fixed-price listing. Name, Description, Price, Seller
// and ListedAt never change after creation; Buyer and State change exactly once
// on purchase and DeliveryConfirmed at most once afterwards.
type Item struct {
	ID                uint64
	Name              string
	Description       string
	Price             *big.Int
	Seller            common.Address
	Buyer             common.Address
	ListedAt          uint64
	State             ItemState
	DeliveryConfirmed bool
}

// Clone returns a deep copy of the item so callers can safely mutate the copy
// without affecting the stored instance.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Price != nil {
		clone.Price = new(big.Int).Set(i.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// HasBuyer reports whether a buyer has been recorded.
func (i *Item) HasBuyer() bool {
	return i != nil && i.Buyer != (common.Address{})
}

// SanitizeItem validates the stored representation of an item, returning a
// cloned instance. It enforces that the buyer is set iff the item is sold and
// that delivery is only confirmed on sold items.
func SanitizeItem(i *Item) (*Item, error) {
	if i == nil {
		return nil, fmt.Errorf("market: nil item")
	}
	clone := i.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("market: item id must be positive")
	}
	if strings.TrimSpace(clone.Name) == "" {
		return nil, marketerrors.ErrEmptyName
	}
	if clone.Price.Sign() <= 0 {
		return nil, marketerrors.ErrZeroPrice
	}
	if clone.Seller == (common.Address{}) {
		return nil, fmt.Errorf("market: item %d missing seller", clone.ID)
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("market: invalid item state %d", clone.State)
	}
	if clone.HasBuyer() != (clone.State == ItemSold) {
		return nil, fmt.Errorf("market: item %d buyer does not match state %s", clone.ID, clone.State)
	}
	if clone.DeliveryConfirmed && clone.State != ItemSold {
		return nil, fmt.Errorf("market: item %d delivery confirmed in state %s", clone.ID, clone.State)
	}
	return clone, nil
}

// Receipt summarises a settled purchase.
type Receipt struct {
	ItemID    uint64
	Buyer     common.Address
	Seller    common.Address
	Price     *big.Int
	Fee       *big.Int
	SellerNet *big.Int
	FeeBps    uint32
}

// Treasury tracks the funds held in custody by the engine. Custody is what the
// engine holds right now, Escrowed is the part of it owed to sellers.
type Treasury struct {
	Custody   *big.Int
	Escrowed  *big.Int
	Received  *big.Int
	FeesPaid  *big.Int
	Withdrawn *big.Int
	Swept     *big.Int
}

// NewTreasury returns a zeroed treasury record.
func NewTreasury() *Treasury {
	return &Treasury{
		Custody:   big.NewInt(0),
		Escrowed:  big.NewInt(0),
		Received:  big.NewInt(0),
		FeesPaid:  big.NewInt(0),
		Withdrawn: big.NewInt(0),
		Swept:     big.NewInt(0),
	}
}

// Clone returns a deep copy with nil fields normalised to zero.
func (t *Treasury) Clone() *Treasury {
	clone := NewTreasury()
	if t == nil {
		return clone
	}
	for _, pair := range []struct{ dst, src *big.Int }{
		{clone.Custody, t.Custody},
		{clone.Escrowed, t.Escrowed},
		{clone.Received, t.Received},
		{clone.FeesPaid, t.FeesPaid},
		{clone.Withdrawn, t.Withdrawn},
		{clone.Swept, t.Swept},
	} {
		if pair.src != nil {
			pair.dst.Set(pair.src)
		}
	}
	return clone
}

// Uncommitted returns the funds in custody that are not owed to any seller.
func (t *Treasury) Uncommitted() *big.Int {
	c := t.Clone()
	return new(big.Int).Sub(c.Custody, c.Escrowed)
}

// Check verifies the solvency invariants:
//
//	Escrowed + FeesPaid <= Received
//	Custody == Received - FeesPaid - Withdrawn - Swept
//	Escrowed <= Custody
func (t *Treasury) Check() error {
	c := t.Clone()
	for name, v := range map[string]*big.Int{
		"custody": c.Custody, "escrowed": c.Escrowed, "received": c.Received,
		"feesPaid": c.FeesPaid, "withdrawn": c.Withdrawn, "swept": c.Swept,
	} {
		if v.Sign() < 0 {
			return fmt.Errorf("market: treasury %s negative", name)
		}
	}
	owed := new(big.Int).Add(c.Escrowed, c.FeesPaid)
	if owed.Cmp(c.Received) > 0 {
		return fmt.Errorf("market: escrowed %s + fees %s exceed received %s", c.Escrowed, c.FeesPaid, c.Received)
	}
	expected := new(big.Int).Sub(c.Received, c.FeesPaid)
	expected.Sub(expected, c.Withdrawn)
	expected.Sub(expected, c.Swept)
	if expected.Cmp(c.Custody) != 0 {
		return fmt.Errorf("market: custody %s does not reconcile to %s", c.Custody, expected)
	}
	if c.Escrowed.Cmp(c.Custody) > 0 {
		return fmt.Errorf("market: escrowed %s exceeds custody %s", c.Escrowed, c.Custody)
	}
	return nil
}

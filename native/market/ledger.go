package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerTx is the view of the ledger store available inside a single
// transaction. Writes made through a transaction are only persisted when the
// enclosing Ledger.Update callback returns nil.
type LedgerTx interface {
	// NextItemID allocates the next sequential item identifier.
	NextItemID() (uint64, error)
	// ItemCount returns the highest identifier allocated so far.
	ItemCount() (uint64, error)
	ItemGet(id uint64) (*Item, bool, error)
	ItemPut(*Item) error

	SellerIndexAppend(seller common.Address, id uint64) error
	SellerIndex(seller common.Address) ([]uint64, error)
	BuyerIndexAppend(buyer common.Address, id uint64) error
	BuyerIndex(buyer common.Address) ([]uint64, error)

	Earnings(addr common.Address) (*big.Int, error)
	SetEarnings(addr common.Address, amount *big.Int) error

	FeeRate() (uint32, error)
	FeeRateConfigured() (bool, error)
	SetFeeRate(bps uint32) error

	Paused() (bool, error)
	SetPaused(bool) error

	Treasury() (*Treasury, error)
	SetTreasury(*Treasury) error

	// AfterCommit registers hook to run after the transaction's writes are
	// durable, while exclusive access is still held. Hooks run in
	// registration order. A failing hook restores the state that preceded the
	// transaction and its error is returned from Update.
	AfterCommit(hook func() error)
}

// Ledger serialises access to the underlying store. Update runs fn with
// exclusive access and commits its writes atomically; View runs fn against a
// consistent read-only snapshot and may run concurrently with other views.
type Ledger interface {
	Update(fn func(LedgerTx) error) error
	View(fn func(LedgerTx) error) error
}

// PaymentRail moves funds out of the engine's custody to an external account.
// A non-nil error means the recipient or the rail rejected the transfer and no
// funds moved.
type PaymentRail interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

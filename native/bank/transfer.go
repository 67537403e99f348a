package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRecipientRejected is returned when a recipient has been configured to
// refuse incoming transfers.
var ErrRecipientRejected = errors.New("bank: recipient rejected transfer")

// Transfer records one outbound payment accepted by the rail.
type Transfer struct {
	To     common.Address
	Amount *big.Int
}

// Bank is an in-process payment rail. It credits recipients in memory and can
// be told to refuse payments to specific recipients, which exercises the
// settlement engine's rollback paths.
type Bank struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	rejecting map[common.Address]struct{}
	history   []Transfer
}

// New returns an empty bank.
func New() *Bank {
	return &Bank{
		balances:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]struct{}),
	}
}

// Transfer credits amount to the recipient unless the recipient is rejecting.
func (b *Bank) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: transfer amount must be positive")
	}
	if to == (common.Address{}) {
		return fmt.Errorf("bank: recipient required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rejecting[to]; ok {
		return fmt.Errorf("%w: %s", ErrRecipientRejected, to.Hex())
	}
	balance, ok := b.balances[to]
	if !ok {
		balance = new(big.Int)
		b.balances[to] = balance
	}
	balance.Add(balance, amount)
	b.history = append(b.history, Transfer{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Reject makes subsequent transfers to addr fail.
func (b *Bank) Reject(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[addr] = struct{}{}
}

// Accept reverses a previous Reject.
func (b *Bank) Accept(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rejecting, addr)
}

// Balance returns the total credited to addr.
func (b *Bank) Balance(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if balance, ok := b.balances[addr]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Transfers returns a copy of every accepted transfer in order.
func (b *Bank) Transfers() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transfer, len(b.history))
	for i, tr := range b.history {
		out[i] = Transfer{To: tr.To, Amount: new(big.Int).Set(tr.Amount)}
	}
	return out
}

package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "itemescrow/core/errors"
	"itemescrow/core/events"
	"itemescrow/core/types"
	"itemescrow/native/fees"
	"itemescrow/observability/metrics"
)

var (
	errNilLedger = errors.New("market engine: ledger not configured")
	errNilRail   = errors.New("market engine: payment rail not configured")
)

// Engine wires the listing, settlement and administration logic with the
// ledger store, the outbound payment rail and event emitters. Every mutating
// call runs as a single ledger transaction and emits exactly one event once
// that transaction has committed, in commit order.
type Engine struct {
	ledger  Ledger
	rail    PaymentRail
	owner   common.Address
	emitter events.Emitter
	nowFn   func() int64
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
}

// NewEngine creates an engine bound to ledger with the given platform owner.
// The emitter defaults to a no-op implementation and the payment rail must be
// configured via SetRail before funds can move.
func NewEngine(ledger Ledger, owner common.Address) *Engine {
	return &Engine{
		ledger:  ledger,
		owner:   owner,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		logger:  slog.Default(),
	}
}

// SetRail configures the rail used for fee pushes, withdrawals and sweeps.
func (e *Engine) SetRail(rail PaymentRail) { e.rail = rail }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger overrides the structured logger. Nil restores slog.Default().
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", ModuleName))
}

// SetMetrics attaches prometheus metrics. Nil disables metrics.
func (e *Engine) SetMetrics(m *metrics.MarketMetrics) { e.metrics = m }

// Owner returns the platform owner that receives fees.
func (e *Engine) Owner() common.Address { return e.owner }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

// commit runs fn inside one ledger transaction. Outbound transfers queued by
// fn run once the writes are durable, and the event returned by fn is emitted
// after them while the ledger is still held, so emitters observe transitions
// in commit order. Emitters must not call back into the engine.
func (e *Engine) commit(operation string, fn func(LedgerTx) (*types.Event, error)) error {
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	var event *types.Event
	var treasury *Treasury
	err := e.ledger.Update(func(tx LedgerTx) error {
		evt, err := fn(tx)
		if err != nil {
			return err
		}
		t, err := tx.Treasury()
		if err != nil {
			return err
		}
		if err := t.Check(); err != nil {
			return err
		}
		tx.AfterCommit(func() error {
			e.emit(evt)
			return nil
		})
		event, treasury = evt, t
		return nil
	})
	e.metrics.ObserveOperation(operation, err)
	if err != nil {
		if errors.Is(err, marketerrors.ErrTransferFailed) {
			e.metrics.IncTransferFailure(operation)
			e.logger.Warn("outbound transfer rejected", slog.String("operation", operation), slog.Any("error", err))
		}
		return err
	}
	e.metrics.SetBalances(treasury.Custody, treasury.Escrowed)
	e.logger.Info("ledger transition committed", slog.String("operation", operation), slog.String("event", event.Type))
	return nil
}

// transfer queues a push of amount to recipient through the payment rail. The
// push runs only after the transaction's writes are committed; a rejection
// restores the ledger to its state before the transaction. Each transaction
// queues at most one transfer.
func (e *Engine) transfer(ctx context.Context, tx LedgerTx, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.rail == nil {
		return fmt.Errorf("%w: %w", marketerrors.ErrTransferFailed, errNilRail)
	}
	value := new(big.Int).Set(amount)
	tx.AfterCommit(func() error {
		if err := e.rail.Transfer(ctx, to, value); err != nil {
			return fmt.Errorf("%w: to %s: %w", marketerrors.ErrTransferFailed, to.Hex(), err)
		}
		return nil
	})
	return nil
}

func loadItem(tx LedgerTx, id uint64) (*Item, error) {
	item, ok, err := tx.ItemGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: item %d", marketerrors.ErrNotFound, id)
	}
	return item, nil
}

// Purchase settles a fixed-price sale. The buyer must tender exactly the
// listing price. The platform fee is pushed to the owner immediately while the
// seller's share is credited to their withdrawable earnings. If the fee push
// fails the ledger is restored to its state before the purchase.
func (e *Engine) Purchase(ctx context.Context, buyer common.Address, id uint64, paid *big.Int) (*Receipt, error) {
	var receipt *Receipt
	err := e.commit("purchase", func(tx LedgerTx) (*types.Event, error) {
		if err := guardPaused(tx); err != nil {
			return nil, err
		}
		item, err := loadItem(tx, id)
		if err != nil {
			return nil, err
		}
		if item.State != ItemActive {
			return nil, fmt.Errorf("%w: item %d is %s", marketerrors.ErrInvalidState, id, item.State)
		}
		if buyer == (common.Address{}) {
			return nil, fmt.Errorf("%w: buyer address required", marketerrors.ErrValidation)
		}
		if buyer == item.Seller {
			return nil, fmt.Errorf("%w: item %d", marketerrors.ErrSelfPurchase, id)
		}
		if paid == nil || paid.Cmp(item.Price) != 0 {
			return nil, fmt.Errorf("%w: paid %s, price %s", marketerrors.ErrPaymentMismatch, amountString(paid), item.Price)
		}
		rate, err := tx.FeeRate()
		if err != nil {
			return nil, err
		}
		split, err := fees.ComputeSplit(item.Price, rate)
		if err != nil {
			return nil, err
		}
		before, err := tx.Earnings(item.Seller)
		if err != nil {
			return nil, err
		}

		item.Buyer = buyer
		item.State = ItemSold
		if err := tx.ItemPut(item); err != nil {
			return nil, err
		}
		if err := tx.BuyerIndexAppend(buyer, id); err != nil {
			return nil, err
		}
		if err := tx.SetEarnings(item.Seller, new(big.Int).Add(before, split.Net)); err != nil {
			return nil, err
		}
		treasury, err := tx.Treasury()
		if err != nil {
			return nil, err
		}
		treasury.Received.Add(treasury.Received, split.Price)
		treasury.Custody.Add(treasury.Custody, split.Net)
		treasury.Escrowed.Add(treasury.Escrowed, split.Net)
		treasury.FeesPaid.Add(treasury.FeesPaid, split.Fee)
		if err := tx.SetTreasury(treasury); err != nil {
			return nil, err
		}

		after, err := tx.Earnings(item.Seller)
		if err != nil {
			return nil, err
		}
		if credited := new(big.Int).Sub(after, before); credited.Cmp(split.Net) != 0 {
			return nil, fmt.Errorf("market: seller credited %s, expected %s", credited, split.Net)
		}

		if err := e.transfer(ctx, tx, e.owner, split.Fee); err != nil {
			return nil, err
		}
		receipt = &Receipt{
			ItemID:    id,
			Buyer:     buyer,
			Seller:    item.Seller,
			Price:     split.Price,
			Fee:       split.Fee,
			SellerNet: split.Net,
			FeeBps:    split.RateBps,
		}
		return NewItemPurchasedEvent(receipt), nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObservePurchase(receipt.Price, receipt.Fee)
	return receipt, nil
}

// ConfirmDelivery records that the buyer received the item. The flag is
// informational: withdrawals are not gated on it.
func (e *Engine) ConfirmDelivery(ctx context.Context, caller common.Address, id uint64) error {
	return e.commit("confirm_delivery", func(tx LedgerTx) (*types.Event, error) {
		if err := guardPaused(tx); err != nil {
			return nil, err
		}
		item, err := loadItem(tx, id)
		if err != nil {
			return nil, err
		}
		if err := authorize(RoleBuyer, e.owner, caller, item); err != nil {
			return nil, err
		}
		if item.State != ItemSold {
			return nil, fmt.Errorf("%w: item %d is %s", marketerrors.ErrInvalidState, id, item.State)
		}
		if item.DeliveryConfirmed {
			return nil, fmt.Errorf("%w: item %d", marketerrors.ErrAlreadyDelivered, id)
		}
		item.DeliveryConfirmed = true
		if err := tx.ItemPut(item); err != nil {
			return nil, err
		}
		return NewItemDeliveredEvent(item), nil
	})
}

// Withdraw pays out the caller's accumulated earnings. The zeroed balance is
// committed before the outbound transfer so that a concurrent or reentrant
// second call observes zero; a rejected transfer writes the balance back.
// Withdrawals stay available while the market is paused.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := e.commit("withdraw", func(tx LedgerTx) (*types.Event, error) {
		balance, err := tx.Earnings(caller)
		if err != nil {
			return nil, err
		}
		if balance.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s", marketerrors.ErrNoEarnings, caller.Hex())
		}
		if err := tx.SetEarnings(caller, big.NewInt(0)); err != nil {
			return nil, err
		}
		treasury, err := tx.Treasury()
		if err != nil {
			return nil, err
		}
		treasury.Escrowed.Sub(treasury.Escrowed, balance)
		treasury.Custody.Sub(treasury.Custody, balance)
		treasury.Withdrawn.Add(treasury.Withdrawn, balance)
		if err := tx.SetTreasury(treasury); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, tx, caller, balance); err != nil {
			return nil, err
		}
		amount = balance
		return NewEarningsWithdrawnEvent(caller, balance), nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveWithdrawal(amount)
	return new(big.Int).Set(amount), nil
}

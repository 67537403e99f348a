package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"itemescrow/core/types"
	"itemescrow/native/fees"
)

// Init seeds the fee rate the first time the engine starts against an empty
// ledger. Later calls leave the stored rate untouched. No event is emitted.
func (e *Engine) Init(ctx context.Context, feeBps uint32) error {
	if err := fees.ValidateRate(feeBps); err != nil {
		return err
	}
	if e == nil || e.ledger == nil {
		return errNilLedger
	}
	return e.ledger.Update(func(tx LedgerTx) error {
		configured, err := tx.FeeRateConfigured()
		if err != nil || configured {
			return err
		}
		if err := tx.SetFeeRate(feeBps); err != nil {
			return err
		}
		t, err := tx.Treasury()
		if err != nil {
			return err
		}
		return tx.SetTreasury(t)
	})
}

// SetFee updates the platform fee rate. The new rate applies to purchases
// settled afterwards; past receipts are not recomputed.
func (e *Engine) SetFee(ctx context.Context, caller common.Address, feeBps uint32) error {
	return e.commit("set_fee", func(tx LedgerTx) (*types.Event, error) {
		if err := authorize(RoleOwner, e.owner, caller, nil); err != nil {
			return nil, err
		}
		if err := fees.ValidateRate(feeBps); err != nil {
			return nil, err
		}
		old, err := tx.FeeRate()
		if err != nil {
			return nil, err
		}
		if err := tx.SetFeeRate(feeBps); err != nil {
			return nil, err
		}
		return NewFeeUpdatedEvent(old, feeBps), nil
	})
}

// EmergencySweep moves every custody unit not owed to a seller to the owner.
// Seller earnings are never touched. A sweep with nothing to move still
// succeeds and emits an event with a zero amount.
func (e *Engine) EmergencySweep(ctx context.Context, caller common.Address) (*big.Int, error) {
	var swept *big.Int
	err := e.commit("sweep", func(tx LedgerTx) (*types.Event, error) {
		if err := authorize(RoleOwner, e.owner, caller, nil); err != nil {
			return nil, err
		}
		treasury, err := tx.Treasury()
		if err != nil {
			return nil, err
		}
		amount := treasury.Uncommitted()
		if amount.Sign() < 0 {
			amount.SetInt64(0)
		}
		treasury.Custody.Sub(treasury.Custody, amount)
		treasury.Swept.Add(treasury.Swept, amount)
		if err := tx.SetTreasury(treasury); err != nil {
			return nil, err
		}
		if err := e.transfer(ctx, tx, e.owner, amount); err != nil {
			return nil, err
		}
		swept = amount
		return NewFundsSweptEvent(e.owner, amount), nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(swept), nil
}

// SetPaused toggles the pause switch. While paused, listing, purchase,
// removal and delivery confirmation are rejected; withdrawals and
// administration keep working.
func (e *Engine) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	return e.commit("set_paused", func(tx LedgerTx) (*types.Event, error) {
		if err := authorize(RoleOwner, e.owner, caller, nil); err != nil {
			return nil, err
		}
		if err := tx.SetPaused(paused); err != nil {
			return nil, err
		}
		return NewPausedEvent(paused), nil
	})
}

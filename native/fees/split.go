package fees

import (
	"fmt"
	"math/big"

	marketerrors "itemescrow/core/errors"
)

const (
	// BasisPoints is the denominator used for fee rates (10_000 bps = 100%).
	BasisPoints = 10_000
	// MaxRateBps caps the platform fee at 10%.
	MaxRateBps uint32 = 1_000
)

// Split summarises how a sale price is divided between the platform and the
// seller. Fee + Net always equals Price.
type Split struct {
	Price   *big.Int
	Fee     *big.Int
	Net     *big.Int
	RateBps uint32
}

// Clone returns a copy of the split with duplicated big.Int values.
func (s Split) Clone() Split {
	clone := Split{RateBps: s.RateBps}
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	}
	if s.Fee != nil {
		clone.Fee = new(big.Int).Set(s.Fee)
	}
	if s.Net != nil {
		clone.Net = new(big.Int).Set(s.Net)
	}
	return clone
}

// ValidateRate enforces the platform fee ceiling.
func ValidateRate(rateBps uint32) error {
	if rateBps > MaxRateBps {
		return fmt.Errorf("%w: %d bps exceeds %d", marketerrors.ErrFeeTooHigh, rateBps, MaxRateBps)
	}
	return nil
}

// ComputeSplit divides price using floor division: fee = price*rate/10_000 and
// net = price - fee, so rounding dust always stays with the seller.
func ComputeSplit(price *big.Int, rateBps uint32) (Split, error) {
	if price == nil || price.Sign() <= 0 {
		return Split{}, marketerrors.ErrZeroPrice
	}
	if rateBps > BasisPoints {
		return Split{}, fmt.Errorf("%w: %d bps exceeds %d", marketerrors.ErrFeeTooHigh, rateBps, BasisPoints)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(rateBps)))
	fee.Quo(fee, big.NewInt(BasisPoints))
	net := new(big.Int).Sub(price, fee)
	return Split{
		Price:   new(big.Int).Set(price),
		Fee:     fee,
		Net:     net,
		RateBps: rateBps,
	}, nil
}

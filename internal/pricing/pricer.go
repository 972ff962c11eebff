// Package pricing evaluates the principal owed at a point in time.
package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"htlc-escrow/internal/domain"
)

var (
	// ErrInvalidAuctionWindow is returned when end time is not after start time.
	ErrInvalidAuctionWindow = errors.New("invalid auction window")

	// ErrInvalidAmount is returned for negative amounts or an unknown amount kind.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Pricer returns the amount owed at now.
type Pricer interface {
	Evaluate(now uint64) int64
}

// Flat is a constant amount.
type Flat struct {
	Amount int64
}

// NewFlat creates a flat pricer.
func NewFlat(amount int64) (Flat, error) {
	if amount < 0 {
		return Flat{}, fmt.Errorf("%w: flat amount %d", ErrInvalidAmount, amount)
	}
	return Flat{Amount: amount}, nil
}

// Evaluate returns the constant amount.
func (f Flat) Evaluate(uint64) int64 {
	return f.Amount
}

// Linear is a Dutch auction between (StartTime, StartAmount) and (EndTime, EndAmount).
type Linear struct {
	StartTime   uint64
	EndTime     uint64
	StartAmount int64
	EndAmount   int64
}

// NewLinear creates a Dutch auction pricer. EndTime must be after StartTime.
func NewLinear(a domain.DutchAuction) (Linear, error) {
	if a.EndTime <= a.StartTime {
		return Linear{}, fmt.Errorf("%w: start=%d end=%d", ErrInvalidAuctionWindow, a.StartTime, a.EndTime)
	}
	if a.StartAmount < 0 || a.EndAmount < 0 {
		return Linear{}, fmt.Errorf("%w: start_amount=%d end_amount=%d", ErrInvalidAmount, a.StartAmount, a.EndAmount)
	}
	return Linear{
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		StartAmount: a.StartAmount,
		EndAmount:   a.EndAmount,
	}, nil
}

// Evaluate interpolates at now clamped to [StartTime, EndTime].
// (a0*(t1-tc) + a1*(tc-t0)) / (t1-t0), truncated toward zero.
func (l Linear) Evaluate(now uint64) int64 {
	tc := now
	if tc < l.StartTime {
		tc = l.StartTime
	}
	if tc > l.EndTime {
		tc = l.EndTime
	}

	left := new(big.Int).Mul(big.NewInt(l.StartAmount), new(big.Int).SetUint64(l.EndTime-tc))
	right := new(big.Int).Mul(big.NewInt(l.EndAmount), new(big.Int).SetUint64(tc-l.StartTime))
	num := left.Add(left, right)
	num.Quo(num, new(big.Int).SetUint64(l.EndTime-l.StartTime))

	// Result lies between the two endpoint amounts, so it fits.
	return num.Int64()
}

// FromCalc builds the pricer described by calc.
func FromCalc(calc domain.AmountCalc) (Pricer, error) {
	switch calc.Kind {
	case domain.AmountFlat:
		return NewFlat(calc.Flat)
	case domain.AmountLinear:
		if calc.Auction == nil {
			return nil, fmt.Errorf("%w: linear amount without auction", ErrInvalidAuctionWindow)
		}
		return NewLinear(*calc.Auction)
	default:
		return nil, fmt.Errorf("%w: unknown amount kind %q", ErrInvalidAmount, calc.Kind)
	}
}

// Evaluate builds the pricer for calc and evaluates it at now.
func Evaluate(calc domain.AmountCalc, now uint64) (int64, error) {
	p, err := FromCalc(calc)
	if err != nil {
		return 0, err
	}
	return p.Evaluate(now), nil
}

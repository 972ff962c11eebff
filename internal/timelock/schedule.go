// Package timelock converts relative stage offsets into absolute stage starts.
package timelock

import (
	"errors"
	"fmt"
	"math/bits"

	"htlc-escrow/internal/domain"
)

var (
	// ErrOverflow is returned when a stage start does not fit in uint64.
	ErrOverflow = errors.New("timelock arithmetic overflow")

	// ErrInvalidOrder is returned when stage offsets are not non-decreasing.
	ErrInvalidOrder = errors.New("timelock stages out of order")
)

// Stage names a lifecycle checkpoint.
type Stage int

const (
	StageWithdrawal Stage = iota
	StagePublicWithdrawal
	StageCancellation
	StagePublicCancellation
)

// Stages lists every known stage in intended order.
var Stages = []Stage{
	StageWithdrawal,
	StagePublicWithdrawal,
	StageCancellation,
	StagePublicCancellation,
}

func (s Stage) String() string {
	switch s {
	case StageWithdrawal:
		return "withdrawal"
	case StagePublicWithdrawal:
		return "public_withdrawal"
	case StageCancellation:
		return "cancellation"
	case StagePublicCancellation:
		return "public_cancellation"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// WithdrawalStage returns the stage gating withdraw for a caller.
// The designated taker gets the earlier private window.
func WithdrawalStage(isTaker bool) Stage {
	if isTaker {
		return StageWithdrawal
	}
	return StagePublicWithdrawal
}

// CancellationStage returns the stage gating cancel for a caller.
func CancellationStage(isTaker bool) Stage {
	if isTaker {
		return StageCancellation
	}
	return StagePublicCancellation
}

// Schedule is a deployment timestamp plus relative stage offsets.
type Schedule struct {
	DeployedAt uint64
	Offsets    domain.Timelocks
}

// New creates a schedule.
func New(deployedAt uint64, offsets domain.Timelocks) Schedule {
	return Schedule{DeployedAt: deployedAt, Offsets: offsets}
}

// Offset returns the relative offset of stage. Unknown stages have offset 0.
func (s Schedule) Offset(stage Stage) uint64 {
	switch stage {
	case StageWithdrawal:
		return s.Offsets.Withdrawal
	case StagePublicWithdrawal:
		return s.Offsets.PublicWithdrawal
	case StageCancellation:
		return s.Offsets.Cancellation
	case StagePublicCancellation:
		return s.Offsets.PublicCancellation
	default:
		return 0
	}
}

// StageStart returns DeployedAt + offset(stage).
func (s Schedule) StageStart(stage Stage) (uint64, error) {
	start, err := add(s.DeployedAt, s.Offset(stage))
	if err != nil {
		return 0, fmt.Errorf("%s start: %w", stage, err)
	}
	return start, nil
}

// RescueStart returns DeployedAt + rescueDelay.
func (s Schedule) RescueStart(rescueDelay uint64) (uint64, error) {
	start, err := add(s.DeployedAt, rescueDelay)
	if err != nil {
		return 0, fmt.Errorf("rescue start: %w", err)
	}
	return start, nil
}

// Reached reports whether now is at or after the start of stage.
func (s Schedule) Reached(stage Stage, now uint64) (bool, error) {
	start, err := s.StageStart(stage)
	if err != nil {
		return false, err
	}
	return now >= start, nil
}

// Validate checks stage ordering and that every stage start is representable.
func (s Schedule) Validate() error {
	o := s.Offsets
	if o.Withdrawal > o.PublicWithdrawal ||
		o.PublicWithdrawal > o.Cancellation ||
		o.Cancellation > o.PublicCancellation {
		return fmt.Errorf("%w: withdrawal=%d public_withdrawal=%d cancellation=%d public_cancellation=%d",
			ErrInvalidOrder, o.Withdrawal, o.PublicWithdrawal, o.Cancellation, o.PublicCancellation)
	}
	for _, stage := range Stages {
		if _, err := s.StageStart(stage); err != nil {
			return err
		}
	}
	return nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

package pricing

import (
	"errors"
	"math"
	"testing"

	"htlc-escrow/internal/domain"
)

func TestLinear_DutchAuction(t *testing.T) {
	p, err := NewLinear(domain.DutchAuction{StartTime: 1000, EndTime: 2000, StartAmount: 1000, EndAmount: 500})
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	tests := []struct {
		now  uint64
		want int64
	}{
		{1000, 1000},
		{2000, 500},
		{1500, 750},
		{500, 1000},
		{2500, 500},
		{0, 1000},
		{math.MaxUint64, 500},
	}

	for _, tt := range tests {
		if got := p.Evaluate(tt.now); got != tt.want {
			t.Errorf("Evaluate(%d) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestLinear_Truncates(t *testing.T) {
	p, err := NewLinear(domain.DutchAuction{StartTime: 0, EndTime: 3, StartAmount: 0, EndAmount: 10})
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	// 10*1/3 = 3.33 -> 3, 10*2/3 = 6.66 -> 6
	if got := p.Evaluate(1); got != 3 {
		t.Errorf("Evaluate(1) = %d, want 3", got)
	}
	if got := p.Evaluate(2); got != 6 {
		t.Errorf("Evaluate(2) = %d, want 6", got)
	}
}

func TestLinear_Monotonic(t *testing.T) {
	windows := []domain.DutchAuction{
		{StartTime: 1000, EndTime: 2000, StartAmount: 1000, EndAmount: 500},
		{StartTime: 10, EndTime: 17, StartAmount: 3, EndAmount: 99},
		{StartTime: 0, EndTime: 1_000_000, StartAmount: math.MaxInt64, EndAmount: 0},
		{StartTime: 5, EndTime: 6, StartAmount: 42, EndAmount: 42},
	}

	for _, w := range windows {
		p, err := NewLinear(w)
		if err != nil {
			t.Fatalf("NewLinear(%+v) failed: %v", w, err)
		}
		if got := p.Evaluate(w.StartTime); got != w.StartAmount {
			t.Errorf("%+v: Evaluate(t0) = %d, want %d", w, got, w.StartAmount)
		}
		if got := p.Evaluate(w.EndTime); got != w.EndAmount {
			t.Errorf("%+v: Evaluate(t1) = %d, want %d", w, got, w.EndAmount)
		}

		step := (w.EndTime - w.StartTime) / 50
		if step == 0 {
			step = 1
		}
		prev := p.Evaluate(w.StartTime)
		for now := w.StartTime + step; now <= w.EndTime; now += step {
			cur := p.Evaluate(now)
			if w.EndAmount <= w.StartAmount && cur > prev {
				t.Errorf("%+v: not non-increasing at %d: %d > %d", w, now, cur, prev)
			}
			if w.EndAmount >= w.StartAmount && cur < prev {
				t.Errorf("%+v: not non-decreasing at %d: %d < %d", w, now, cur, prev)
			}
			prev = cur
		}
	}
}

func TestNewLinear_InvalidWindow(t *testing.T) {
	for _, w := range []domain.DutchAuction{
		{StartTime: 2000, EndTime: 1000, StartAmount: 1, EndAmount: 1},
		{StartTime: 1000, EndTime: 1000, StartAmount: 1, EndAmount: 1},
	} {
		if _, err := NewLinear(w); !errors.Is(err, ErrInvalidAuctionWindow) {
			t.Errorf("NewLinear(%+v) = %v, want ErrInvalidAuctionWindow", w, err)
		}
	}
}

func TestFromCalc(t *testing.T) {
	got, err := Evaluate(domain.FlatAmount(77), 123)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 77 {
		t.Errorf("flat Evaluate = %d, want 77", got)
	}

	got, err = Evaluate(domain.LinearAmount(domain.DutchAuction{StartTime: 1000, EndTime: 2000, StartAmount: 1000, EndAmount: 500}), 1500)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 750 {
		t.Errorf("linear Evaluate = %d, want 750", got)
	}

	if _, err := Evaluate(domain.FlatAmount(-1), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for negative flat, got %v", err)
	}
	if _, err := Evaluate(domain.AmountCalc{Kind: domain.AmountLinear}, 0); !errors.Is(err, ErrInvalidAuctionWindow) {
		t.Errorf("Expected ErrInvalidAuctionWindow for missing auction, got %v", err)
	}
	if _, err := Evaluate(domain.AmountCalc{Kind: "STEP"}, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for unknown kind, got %v", err)
	}
}

package distribution

import (
	"fmt"
	"math/bits"
)

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrMathOverflow, a, b)
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", ErrMathOverflow, a, b)
	}
	return diff, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// mulDiv returns floor(a * b / d) using a 128-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrMathOverflow)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, fmt.Errorf("%w: %d * %d / %d", ErrMathOverflow, a, b, d)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// lockedFractionBps returns min(10000, floor(locked * 10000 / y0)).
func lockedFractionBps(locked, y0 uint64) (uint64, error) {
	if y0 == 0 {
		return 0, ErrInvalidY0Allocation
	}
	if locked >= y0 {
		return MaxBps, nil
	}
	return mulDiv(locked, MaxBps, y0)
}

// EligibleShareBps is min(investor fee share, locked fraction of y0) in basis points.
func EligibleShareBps(shareBps uint16, lockedTotal, y0 uint64) (uint64, error) {
	fLocked, err := lockedFractionBps(lockedTotal, y0)
	if err != nil {
		return 0, err
	}
	return min(uint64(shareBps), fLocked), nil
}

// ApplyBps returns floor(amount * bps / 10000).
func ApplyBps(amount, bps uint64) (uint64, error) {
	return mulDiv(amount, bps, MaxBps)
}

// ProRata splits total across weights, rounding each share down.
func ProRata(total uint64, weights []uint64) ([]uint64, error) {
	var sum uint64
	for _, w := range weights {
		var err error
		if sum, err = checkedAdd(sum, w); err != nil {
			return nil, err
		}
	}
	shares := make([]uint64, len(weights))
	if sum == 0 {
		return shares, nil
	}
	for i, w := range weights {
		share, err := mulDiv(total, w, sum)
		if err != nil {
			return nil, err
		}
		shares[i] = share
	}
	return shares, nil
}

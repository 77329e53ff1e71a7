package vesting

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrMalformedSchedule = errors.New("malformed vesting schedule")

// Kind selects how a Schedule releases tokens.
type Kind uint8

const (
	// KindNone never locks anything.
	KindNone Kind = iota
	// KindLinear releases linearly from start to end.
	KindLinear
	// KindCliff locks everything until the cliff, then releases linearly from start to end.
	KindCliff
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindLinear:
		return "linear"
	case KindCliff:
		return "cliff"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "none", "":
		return KindNone, nil
	case "linear":
		return KindLinear, nil
	case "cliff":
		return KindCliff, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrMalformedSchedule, s)
	}
}

// Schedule is a single investor's vesting stream. Times are unix seconds.
type Schedule struct {
	Kind      Kind   `json:"kind"`
	Start     int64  `json:"start"`
	Cliff     int64  `json:"cliff"`
	End       int64  `json:"end"`
	Total     uint64 `json:"total"`
	Withdrawn uint64 `json:"withdrawn"`
}

// Unlocked returns a schedule that has no locked balance at any time.
func Unlocked(total uint64) Schedule {
	return Schedule{Kind: KindNone, Total: total}
}

func NewLinear(start, end int64, total, withdrawn uint64) (Schedule, error) {
	s := Schedule{Kind: KindLinear, Start: start, Cliff: start, End: end, Total: total, Withdrawn: withdrawn}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func NewCliff(start, cliff, end int64, total, withdrawn uint64) (Schedule, error) {
	s := Schedule{Kind: KindCliff, Start: start, Cliff: cliff, End: end, Total: total, Withdrawn: withdrawn}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (s Schedule) Validate() error {
	switch s.Kind {
	case KindNone:
		return nil
	case KindLinear:
		if s.Cliff != s.Start {
			return fmt.Errorf("%w: linear schedule cliff %d differs from start %d", ErrMalformedSchedule, s.Cliff, s.Start)
		}
	case KindCliff:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedSchedule, s.Kind)
	}
	if s.End < s.Start {
		return fmt.Errorf("%w: end %d before start %d", ErrMalformedSchedule, s.End, s.Start)
	}
	if s.Cliff < s.Start || s.Cliff > s.End {
		return fmt.Errorf("%w: cliff %d outside [%d, %d]", ErrMalformedSchedule, s.Cliff, s.Start, s.End)
	}
	if s.Withdrawn > s.Total {
		return fmt.Errorf("%w: withdrawn %d exceeds total %d", ErrMalformedSchedule, s.Withdrawn, s.Total)
	}
	return nil
}

// LockedAt returns the amount still locked at now.
func (s Schedule) LockedAt(now int64) uint64 {
	if s.Kind == KindNone {
		return 0
	}
	if now < s.Cliff {
		return s.Total
	}
	if now >= s.End || s.End <= s.Start {
		return 0
	}

	if now < s.Start {
		return s.Total
	}

	elapsed := uint64(now - s.Start)
	duration := uint64(s.End - s.Start)

	// total * elapsed / duration, where elapsed < duration keeps the quotient below total.
	hi, lo := bits.Mul64(s.Total, elapsed)
	vested, _ := bits.Div64(hi, lo, duration)

	unlocked := vested + s.Withdrawn
	if unlocked < vested || unlocked >= s.Total {
		return 0
	}
	return s.Total - unlocked
}

// Vested returns the amount released by now, including anything already withdrawn.
func (s Schedule) Vested(now int64) uint64 {
	return s.Total - s.LockedAt(now)
}

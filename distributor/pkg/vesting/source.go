package vesting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var ErrStreamNotFound = errors.New("vesting stream not found")

// Source resolves the vesting schedule behind a stream account.
type Source interface {
	Schedule(ctx context.Context, stream solana.PublicKey) (Schedule, error)
}

// StaticSource serves schedules from memory.
type StaticSource struct {
	mu        sync.RWMutex
	schedules map[solana.PublicKey]Schedule
}

func NewStaticSource() *StaticSource {
	return &StaticSource{schedules: make(map[solana.PublicKey]Schedule)}
}

// Set validates and stores the schedule for a stream, replacing any previous one.
func (s *StaticSource) Set(stream solana.PublicKey, schedule Schedule) error {
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("stream %s: %w", stream, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[stream] = schedule
	return nil
}

func (s *StaticSource) Schedule(_ context.Context, stream solana.PublicKey) (Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[stream]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %s", ErrStreamNotFound, stream)
	}
	return schedule, nil
}

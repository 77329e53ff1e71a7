package vesting

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// StreamAccountDiscriminator prefixes every vesting stream account.
var StreamAccountDiscriminator = func() [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("account:VestingStream"))
	copy(d[:], sum[:8])
	return d
}()

// StreamAccountSize is the Borsh-encoded size of a stream account.
const StreamAccountSize = 8 + 1 + 8*3 + 8*2

// streamAccount is the on-chain layout of a vesting stream.
type streamAccount struct {
	Discriminator [8]byte
	Kind          uint8
	Start         int64
	Cliff         int64
	End           int64
	Total         uint64
	Withdrawn     uint64
}

// DecodeAccount parses a Borsh-encoded stream account and validates the schedule it describes.
func DecodeAccount(data []byte) (Schedule, error) {
	if len(data) < StreamAccountSize {
		return Schedule{}, fmt.Errorf("%w: account data too short (%d bytes)", ErrMalformedSchedule, len(data))
	}

	var acct streamAccount
	if err := bin.NewBorshDecoder(data).Decode(&acct); err != nil {
		return Schedule{}, fmt.Errorf("failed to decode stream account: %w", err)
	}
	if acct.Discriminator != StreamAccountDiscriminator {
		return Schedule{}, fmt.Errorf("%w: unexpected account discriminator %x", ErrMalformedSchedule, acct.Discriminator)
	}

	s := Schedule{
		Kind:      Kind(acct.Kind),
		Start:     acct.Start,
		Cliff:     acct.Cliff,
		End:       acct.End,
		Total:     acct.Total,
		Withdrawn: acct.Withdrawn,
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// EncodeAccount is the inverse of DecodeAccount.
func EncodeAccount(s Schedule) ([]byte, error) {
	var buf bytes.Buffer
	err := bin.NewBorshEncoder(&buf).Encode(streamAccount{
		Discriminator: StreamAccountDiscriminator,
		Kind:          uint8(s.Kind),
		Start:         s.Start,
		Cliff:         s.Cliff,
		End:           s.End,
		Total:         s.Total,
		Withdrawn:     s.Withdrawn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream account: %w", err)
	}
	return buf.Bytes(), nil
}

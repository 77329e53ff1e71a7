package distribution

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// RecordKind names one of the records a vault owns.
type RecordKind string

const (
	RecordPolicy   RecordKind = "policy"
	RecordProgress RecordKind = "progress"
	RecordPosition RecordKind = "position"
	RecordTreasury RecordKind = "treasury"
)

// RecordKey addresses a single record.
type RecordKey struct {
	Vault solana.PublicKey
	Kind  RecordKind
}

func KeyFor(vault solana.PublicKey, kind RecordKind) RecordKey {
	return RecordKey{Vault: vault, Kind: kind}
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s", k.Vault, k.Kind)
}

// ID is a fixed-width identifier for the record, stable across processes.
func (k RecordKey) ID() string {
	h := sha256.New()
	h.Write([]byte("feevault"))
	h.Write(k.Vault[:])
	h.Write([]byte(k.Kind))
	return base58.Encode(h.Sum(nil))
}

// Package events reconstructs typed domain events from transaction log
// text. It feeds the same parser from two sources: a live subscription
// stream and historical replay over a slot range.
package events

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// EventContext locates an event in the ledger.
type EventContext struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time // zero when the source does not carry it
	Program   solana.PublicKey
}

// ParsedEvent is one decoded domain event. Immutable once constructed.
type ParsedEvent struct {
	Name    string
	Data    map[string]interface{}
	Context EventContext
}

package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for emitted records
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeTransfer
	EventTypeApproval
	EventTypeTaxCollected
	EventTypeBurned
	EventTypeMinted
	EventTypeVaultSet
	EventTypeExclusionUpdated
	EventTypeAgentRegistered
	EventTypeAgentWalletUpdated
	EventTypeTipRecorded
	EventTypeVaultMinted
	EventTypeVaultRedeemed
	EventTypeReservePaid
)

// EventEnvelope wraps every emitted record in the log
type EventEnvelope struct {
	// Sequence of the command that produced the event (global, monotonic)
	Sequence int64

	// Idempotency key of the command that produced the event
	RequestID uuid.UUID

	// Command discriminator ("Transfer", "Tip", ...)
	Command string

	// Position of the event within its command (0-based)
	LogIndex int

	EventType EventType

	// Versioned command timestamp (NOT wall-clock)
	Timestamp time.Time

	Payload Event

	// SHA-256 of state AFTER applying the command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all emitted records implement
type Event interface {
	EventType() EventType
}

// Emitter receives records as operations succeed.
type Emitter interface {
	Emit(Event)
}

// Buffer collects events for one command; the engine drains it on commit
// and resets it on rollback.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) {
	b.events = append(b.events, e)
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	b.events = nil
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

func (et EventType) String() string {
	switch et {
	case EventTypeTransfer:
		return "Transfer"
	case EventTypeApproval:
		return "Approval"
	case EventTypeTaxCollected:
		return "TaxCollected"
	case EventTypeBurned:
		return "Burned"
	case EventTypeMinted:
		return "Minted"
	case EventTypeVaultSet:
		return "VaultSet"
	case EventTypeExclusionUpdated:
		return "ExclusionUpdated"
	case EventTypeAgentRegistered:
		return "AgentRegistered"
	case EventTypeAgentWalletUpdated:
		return "AgentWalletUpdated"
	case EventTypeTipRecorded:
		return "TipRecorded"
	case EventTypeVaultMinted:
		return "VaultMinted"
	case EventTypeVaultRedeemed:
		return "VaultRedeemed"
	case EventTypeReservePaid:
		return "ReservePaid"
	default:
		return "Unknown"
	}
}

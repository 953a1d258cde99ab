package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

type EventKind string

const (
	TransactionCreated EventKind = "transaction.created"
	TransactionDeleted EventKind = "transaction.deleted"
)

// LedgerEvent is a lightweight notification about a ledger write.
// It carries only the id; consumers fetch the transaction from the store.
type LedgerEvent struct {
	Kind          EventKind `json:"kind"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind EventKind, transactionID string) *LedgerEvent {
	return &LedgerEvent{
		Kind:          kind,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects ones without a kind or id.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Kind != TransactionCreated && ev.Kind != TransactionDeleted {
		return nil, errors.New("unknown event kind: " + string(ev.Kind))
	}
	if ev.TransactionID == "" {
		return nil, errors.New("event without transaction id")
	}
	return &ev, nil
}

package domain

import "time"

type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventFileSubmitted    EventType = "file.submitted"
	EventRequestClosed    EventType = "request.closed"
	EventWinnerChosen     EventType = "winner.chosen"
	EventRewardWithdrawn  EventType = "reward.withdrawn"
	EventAccountDeposited EventType = "account.deposited"
)

func (t EventType) MarshalText() ([]byte, error) { return []byte(string(t)), nil }

// Event records a committed ledger state change. Events are emitted after the
// store commits and never influence ledger state.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	RequestID  *int64    `json:"requestId,omitempty"`
	Actor      Address   `json:"actor,omitempty"`
	FileID     *int      `json:"fileId,omitempty"`
	Winner     Address   `json:"winner,omitempty"`
	Amount     *Amount   `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RequestEvent builds an event about request id.
func RequestEvent(t EventType, id int64, actor Address, at time.Time) Event {
	return Event{Type: t, RequestID: &id, Actor: actor, OccurredAt: at.UTC()}
}

// LedgerStats is a point-in-time summary of the store.
type LedgerStats struct {
	Requests int64  `json:"requests"`
	Active   int64  `json:"active"`
	Escrowed Amount `json:"escrowed"`
}

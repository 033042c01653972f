package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	BankCode      string          `json:"bank_code"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType string, bankCode, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		BankCode:      bankCode,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	PublishBatch(ctx context.Context, events []*Event) error
}

// EventHandler handles incoming events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
	EventTypes() []string
}

// Event type constants for this system's domains: consent, payment,
// product agreement, and bank capital.
const (
	EventConsentRequested = "consent.requested"
	EventConsentAuthorized = "consent.authorized"
	EventConsentRejected   = "consent.rejected"
	EventConsentRevoked    = "consent.revoked"
	EventConsentExpired    = "consent.expired"
	EventConsentConsumed   = "consent.consumed"

	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventVRPPaymentExecuted = "payment.vrp.executed"

	EventAgreementOpened = "agreement.opened"
	EventAgreementClosed = "agreement.closed"

	EventBankCapitalAdjusted = "bank.capital.adjusted"
)

// ConsentAuthorizedData is the data for consent.authorized events.
type ConsentAuthorizedData struct {
	ConsentID string `json:"consent_id"`
	Kind      string `json:"kind"`
	Grantee   string `json:"grantee"`
	Grantor   string `json:"grantor"`
}

// PaymentCompletedData is the data for payment.completed events.
type PaymentCompletedData struct {
	PaymentID   string    `json:"payment_id"`
	FromAccount string    `json:"from_account"`
	ToAccount   string    `json:"to_account"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completed_at"`
}

// PaymentFailedData is the data for payment.failed events.
type PaymentFailedData struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

// AgreementOpenedData is the data for agreement.opened events.
type AgreementOpenedData struct {
	AgreementID string `json:"agreement_id"`
	ProductKind string `json:"product_kind"`
	AccountID   string `json:"account_id"`
	Principal   int64  `json:"principal_minor"`
}

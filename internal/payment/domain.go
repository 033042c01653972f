// Package payment implements the Payment Engine: single-payment and
// variable recurring payment execution, intra-bank and inter-bank,
// gated by the consent registry and settled atomically against the
// account ledger and bank capital.
package payment

import (
	"errors"
	"time"

	"banksandbox/internal/common/money"
)

// Status is a payment's terminal or in-flight state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrSourceNotFound  = errors.New("source account not found")
	ErrConsentRequired = errors.New("a payment consent is required for this transfer")
	ErrInvalidConsent  = errors.New("payment consent is not valid for this transfer")
	ErrConsentMismatch = errors.New("payment consent does not match the requested transfer")
	ErrVRPCapExceeded  = errors.New("variable recurring payment cap exceeded")
)

// Payment is one money-movement record, intra-bank or inter-bank.
type Payment struct {
	ID             string
	ExternalID     string
	ConsentID      string // internal consent id, empty for client self-payments
	FromAccountID  string
	ToAccountID    string // empty when inter-bank
	ToBankCode     string // empty when intra-bank
	Amount         money.Money
	Description    string
	Status         Status
	IdempotencyKey string
	FailureReason  string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// complete marks the payment completed at the given time.
func (p *Payment) complete(at time.Time) {
	p.Status = StatusCompleted
	p.CompletedAt = &at
}

// fail marks the payment failed, recording why.
func (p *Payment) fail(reason string) {
	p.Status = StatusFailed
	p.FailureReason = reason
}

// InterbankTransferStatus mirrors a transfer record's lifecycle.
type InterbankTransferStatus string

const (
	TransferProcessing InterbankTransferStatus = "processing"
	TransferCompleted  InterbankTransferStatus = "completed"
	TransferFailed     InterbankTransferStatus = "failed"
)

// InterbankTransfer logs the outbound or inbound leg of an inter-bank
// payment as a capital movement rather than a clearing-protocol message.
type InterbankTransfer struct {
	ID           string
	TransferID   string
	PaymentID    string
	FromBankCode string
	ToBankCode   string
	Amount       money.Money
	Status       InterbankTransferStatus
	CreatedAt    time.Time
	SettledAt    *time.Time
}

package payment

import (
	"context"
	"fmt"

	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// Store persists payments and the inter-bank transfer records their
// outbound/inbound legs generate. Every method takes a
// database.Querier so the engine can compose debit, credit, consent
// consumption, and payment persistence inside one transaction.
type Store struct {
	db *database.DB
}

// NewStore constructs a payment store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for opening the engine's own transaction.
func (s *Store) DB() *database.DB {
	return s.db
}

// Create inserts a new payment record. If idempotencyKey collides with
// an existing payment, the existing payment is returned instead of an
// error — a retried initiation with the same key replays its result
// rather than double-executing.
func (s *Store) Create(ctx context.Context, q database.Querier, p Payment) (Payment, bool, error) {
	var consentID, toAccountID, toBankCode, idempotencyKey *string
	if p.ConsentID != "" {
		consentID = &p.ConsentID
	}
	if p.ToAccountID != "" {
		toAccountID = &p.ToAccountID
	}
	if p.ToBankCode != "" {
		toBankCode = &p.ToBankCode
	}
	if p.IdempotencyKey != "" {
		idempotencyKey = &p.IdempotencyKey
	}

	_, err := q.Exec(ctx, `
		INSERT INTO payments (id, external_id, consent_id, from_account_id, to_account_id, to_bank_code, amount_minor, currency, status, idempotency_key, failure_reason, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.ExternalID, consentID, p.FromAccountID, toAccountID, toBankCode, p.Amount.AmountMinor, p.Amount.Currency, p.Status, idempotencyKey, nullableString(p.FailureReason), p.CreatedAt, p.CompletedAt)
	if err != nil {
		if database.IsUniqueViolation(err) && p.IdempotencyKey != "" {
			existing, getErr := s.GetByIdempotencyKey(ctx, q, p.IdempotencyKey)
			if getErr != nil {
				return Payment{}, false, fmt.Errorf("creating payment: %w", err)
			}
			return existing, true, nil
		}
		return Payment{}, false, fmt.Errorf("creating payment: %w", err)
	}
	return p, false, nil
}

// SetStatus persists a payment's terminal status.
func (s *Store) SetStatus(ctx context.Context, q database.Querier, p Payment) error {
	_, err := q.Exec(ctx, `
		UPDATE payments SET status = $1, failure_reason = $2, completed_at = $3 WHERE id = $4
	`, p.Status, nullableString(p.FailureReason), p.CompletedAt, p.ID)
	if err != nil {
		return fmt.Errorf("updating payment status: %w", err)
	}
	return nil
}

// Get fetches a payment by internal id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (Payment, error) {
	return s.scan(q.QueryRow(ctx, paymentSelect+" WHERE id = $1", id))
}

// GetByExternalID fetches a payment by its external-facing id.
func (s *Store) GetByExternalID(ctx context.Context, q database.Querier, externalID string) (Payment, error) {
	return s.scan(q.QueryRow(ctx, paymentSelect+" WHERE external_id = $1", externalID))
}

// GetByIdempotencyKey fetches a payment by its client-supplied
// idempotency key, used to detect and replay a retried initiation.
func (s *Store) GetByIdempotencyKey(ctx context.Context, q database.Querier, key string) (Payment, error) {
	return s.scan(q.QueryRow(ctx, paymentSelect+" WHERE idempotency_key = $1", key))
}

const paymentSelect = `
	SELECT id, external_id, consent_id, from_account_id, to_account_id, to_bank_code, amount_minor, currency, status, idempotency_key, failure_reason, created_at, completed_at
	FROM payments`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row rowScanner) (Payment, error) {
	var p Payment
	var consentID, toAccountID, toBankCode, idempotencyKey, failureReason *string
	var status, currency string
	var amountMinor int64

	err := row.Scan(&p.ID, &p.ExternalID, &consentID, &p.FromAccountID, &toAccountID, &toBankCode, &amountMinor, &currency, &status, &idempotencyKey, &failureReason, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Payment{}, database.ErrNotFound
		}
		return Payment{}, fmt.Errorf("scanning payment: %w", err)
	}

	p.Amount = money.New(amountMinor, money.Currency(currency))
	p.Status = Status(status)
	if consentID != nil {
		p.ConsentID = *consentID
	}
	if toAccountID != nil {
		p.ToAccountID = *toAccountID
	}
	if toBankCode != nil {
		p.ToBankCode = *toBankCode
	}
	if idempotencyKey != nil {
		p.IdempotencyKey = *idempotencyKey
	}
	if failureReason != nil {
		p.FailureReason = *failureReason
	}
	return p, nil
}

// CreateInterbankTransfer inserts a transfer record for an inter-bank
// payment's outbound leg.
func (s *Store) CreateInterbankTransfer(ctx context.Context, q database.Querier, t InterbankTransfer) error {
	_, err := q.Exec(ctx, `
		INSERT INTO interbank_transfers (id, transfer_id, payment_id, from_bank_code, to_bank_code, amount_minor, currency, status, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.TransferID, t.PaymentID, t.FromBankCode, t.ToBankCode, t.Amount.AmountMinor, t.Amount.Currency, t.Status, t.CreatedAt, t.SettledAt)
	if err != nil {
		return fmt.Errorf("creating interbank transfer: %w", err)
	}
	return nil
}

// SetInterbankTransferStatus persists a transfer's settlement outcome.
func (s *Store) SetInterbankTransferStatus(ctx context.Context, q database.Querier, id string, status InterbankTransferStatus) error {
	_, err := q.Exec(ctx, `UPDATE interbank_transfers SET status = $1, settled_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating interbank transfer status: %w", err)
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

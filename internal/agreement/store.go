package agreement

import (
	"context"
	"fmt"

	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// Store persists product agreements. Methods take a database.Querier so
// the service can compose account creation, capital adjustment, and
// agreement persistence inside one transaction.
type Store struct {
	db *database.DB
}

// NewStore constructs an agreement store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for callers opening their own transaction.
func (s *Store) DB() *database.DB {
	return s.db
}

const agreementSelect = `
	SELECT id, external_id, client_id, consent_id, product_kind, account_id, principal_minor, currency, status, opened_at, closed_at
	FROM agreements
`

// Create inserts a new agreement record.
func (s *Store) Create(ctx context.Context, q database.Querier, a Agreement) error {
	_, err := q.Exec(ctx, `
		INSERT INTO agreements (id, external_id, client_id, consent_id, product_kind, account_id, principal_minor, currency, status, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.ExternalID, a.ClientID, nullableString(a.ConsentID), a.Kind, nullableString(a.AccountID), a.Principal.AmountMinor, string(a.Principal.Currency), a.Status, a.OpenedAt, a.ClosedAt)
	if err != nil {
		return fmt.Errorf("creating agreement: %w", err)
	}
	return nil
}

// Get fetches an agreement by internal id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (Agreement, error) {
	return s.scan(q.QueryRow(ctx, agreementSelect+" WHERE id = $1", id))
}

// GetByExternalID fetches an agreement by external id.
func (s *Store) GetByExternalID(ctx context.Context, q database.Querier, externalID string) (Agreement, error) {
	return s.scan(q.QueryRow(ctx, agreementSelect+" WHERE external_id = $1", externalID))
}

// GetForUpdate fetches and row-locks an agreement within an open
// transaction, used while closing it atomically against its account.
func (s *Store) GetForUpdate(ctx context.Context, q database.Querier, id string) (Agreement, error) {
	return s.scan(q.QueryRow(ctx, agreementSelect+" WHERE id = $1 FOR UPDATE", id))
}

// ListByClient lists every agreement a client holds.
func (s *Store) ListByClient(ctx context.Context, q database.Querier, clientID string) ([]Agreement, error) {
	rows, err := q.Query(ctx, agreementSelect+" WHERE client_id = $1 ORDER BY opened_at DESC", clientID)
	if err != nil {
		return nil, fmt.Errorf("listing agreements: %w", err)
	}
	defer rows.Close()

	var out []Agreement
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStatus persists a status transition, including closed_at.
func (s *Store) SetStatus(ctx context.Context, q database.Querier, a Agreement) error {
	_, err := q.Exec(ctx, `
		UPDATE agreements SET status = $1, closed_at = $2 WHERE id = $3
	`, a.Status, a.ClosedAt, a.ID)
	if err != nil {
		return fmt.Errorf("updating agreement status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row rowScanner) (Agreement, error) {
	var a Agreement
	var consentID, accountID *string
	var principalMinor int64
	var currency string

	err := row.Scan(&a.ID, &a.ExternalID, &a.ClientID, &consentID, &a.Kind, &accountID, &principalMinor, &currency, &a.Status, &a.OpenedAt, &a.ClosedAt)
	if err != nil {
		return Agreement{}, fmt.Errorf("scanning agreement: %w", err)
	}
	if consentID != nil {
		a.ConsentID = *consentID
	}
	if accountID != nil {
		a.AccountID = *accountID
	}
	a.Principal = money.New(principalMinor, money.Currency(currency))
	return a, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

package ledger

import (
	"context"
	"fmt"

	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// Store persists accounts, cards, and transactions. Every method takes a
// database.Querier so callers composing a larger transaction (the
// payment engine debiting one account and crediting another) can pass
// their own pgx.Tx, while standalone callers pass the pool.
type Store struct {
	db *database.DB
}

// NewStore constructs a ledger store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for callers that need to open their own
// transaction spanning multiple store calls.
func (s *Store) DB() *database.DB {
	return s.db
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, q database.Querier, a Account) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (id, external_id, client_id, account_type, currency, balance_minor, status, opened_via_agreement_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.ExternalID, a.ClientID, a.Type, a.Currency, a.Balance.AmountMinor, a.Status, nullableString(a.OpenedViaAgreementID), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by internal id.
func (s *Store) GetAccount(ctx context.Context, q database.Querier, id string) (Account, error) {
	return s.scanAccount(q.QueryRow(ctx, accountSelect+" WHERE id = $1", id))
}

// GetAccountByExternalID fetches an account by its external-facing id.
func (s *Store) GetAccountByExternalID(ctx context.Context, q database.Querier, externalID string) (Account, error) {
	return s.scanAccount(q.QueryRow(ctx, accountSelect+" WHERE external_id = $1", externalID))
}

// GetAccountForUpdate fetches and row-locks an account within an open
// transaction, the shape every balance mutation inside the payment
// engine and agreement manager relies on for serializable correctness.
func (s *Store) GetAccountForUpdate(ctx context.Context, q database.Querier, id string) (Account, error) {
	return s.scanAccount(q.QueryRow(ctx, accountSelect+" WHERE id = $1 FOR UPDATE", id))
}

// ListAccountsByClient lists every account owned by a client.
func (s *Store) ListAccountsByClient(ctx context.Context, q database.Querier, clientID string) ([]Account, error) {
	rows, err := q.Query(ctx, accountSelect+" WHERE client_id = $1 ORDER BY created_at ASC", clientID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := s.scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetBalance persists a new account balance, used inside a locked
// transaction after computing the post-debit/credit balance.
func (s *Store) SetBalance(ctx context.Context, q database.Querier, id string, balance money.Money) error {
	_, err := q.Exec(ctx, `UPDATE accounts SET balance_minor = $1, updated_at = now() WHERE id = $2`, balance.AmountMinor, id)
	if err != nil {
		return fmt.Errorf("updating account balance: %w", err)
	}
	return nil
}

// SetStatus persists a new account status.
func (s *Store) SetStatus(ctx context.Context, q database.Querier, id string, status AccountStatus) error {
	_, err := q.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating account status: %w", err)
	}
	return nil
}

// AppendTransaction writes an immutable ledger entry. Transactions are
// never updated or deleted once written.
func (s *Store) AppendTransaction(ctx context.Context, q database.Querier, t Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, external_id, account_id, counterparty_account_id, direction, amount_minor, currency, balance_after_minor, payment_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.ExternalID, t.AccountID, nullableString(t.CounterpartyAccountID), t.Direction, t.Amount.AmountMinor, t.Amount.Currency, t.BalanceAfter.AmountMinor, nullableString(t.PaymentID), t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a page of an account's transaction history,
// newest first, along with the total row count for pagination metadata.
func (s *Store) ListTransactions(ctx context.Context, q database.Querier, accountID string, limit, offset int) ([]Transaction, int64, error) {
	var total int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, external_id, account_id, counterparty_account_id, direction, amount_minor, currency, balance_after_minor, payment_id, description, created_at
		FROM transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var counterparty, paymentID *string
		var currency string
		var amountMinor, balanceAfterMinor int64

		if err := rows.Scan(&t.ID, &t.ExternalID, &t.AccountID, &counterparty, &t.Direction, &amountMinor, &currency, &balanceAfterMinor, &paymentID, &t.Description, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning transaction: %w", err)
		}
		t.Amount = money.New(amountMinor, money.Currency(currency))
		t.BalanceAfter = money.New(balanceAfterMinor, money.Currency(currency))
		if counterparty != nil {
			t.CounterpartyAccountID = *counterparty
		}
		if paymentID != nil {
			t.PaymentID = *paymentID
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// CreateCard inserts a new card.
func (s *Store) CreateCard(ctx context.Context, q database.Querier, c Card) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cards (id, external_id, account_id, pan_last4, pan_hash, brand, card_type, holder_name, expiry, status, daily_spend_limit_minor, monthly_spend_limit_minor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.ExternalID, c.AccountID, c.PANLast4, c.PANHash, c.Brand, c.Type, c.HolderName, c.Expiry, c.Status, spendLimitMinor(c.DailySpendLimit), spendLimitMinor(c.MonthlySpendLimit), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating card: %w", err)
	}
	return nil
}

const cardSelect = `
	SELECT id, external_id, account_id, pan_last4, pan_hash, brand, card_type, holder_name, expiry, status, daily_spend_limit_minor, monthly_spend_limit_minor, created_at, updated_at
	FROM cards`

// GetCard fetches a card by internal id.
func (s *Store) GetCard(ctx context.Context, q database.Querier, id string) (Card, error) {
	return s.scanCard(q.QueryRow(ctx, cardSelect+" WHERE id = $1", id))
}

// ListCardsByAccount lists every card attached to an account.
func (s *Store) ListCardsByAccount(ctx context.Context, q database.Querier, accountID string) ([]Card, error) {
	rows, err := q.Query(ctx, cardSelect+" WHERE account_id = $1 ORDER BY created_at ASC", accountID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := s.scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (s *Store) scanCard(row rowScanner) (Card, error) {
	var c Card
	var brand, cardType, status, currency string
	var dailyLimit, monthlyLimit *int64

	err := row.Scan(&c.ID, &c.ExternalID, &c.AccountID, &c.PANLast4, &c.PANHash, &brand, &cardType, &c.HolderName, &c.Expiry, &status, &dailyLimit, &monthlyLimit, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Card{}, database.ErrNotFound
		}
		return Card{}, fmt.Errorf("fetching card: %w", err)
	}

	c.Brand = CardBrand(brand)
	c.Type = CardType(cardType)
	c.Status = CardStatus(status)
	// Card limits carry the owning account's currency, but that
	// currency isn't denormalized onto the cards table, so USD stands
	// in as the sandbox's single supported card currency.
	currency = string(money.USD)
	if dailyLimit != nil {
		m := money.New(*dailyLimit, money.Currency(currency))
		c.DailySpendLimit = &m
	}
	if monthlyLimit != nil {
		m := money.New(*monthlyLimit, money.Currency(currency))
		c.MonthlySpendLimit = &m
	}
	return c, nil
}

// SetCardStatus persists a card's status transition.
func (s *Store) SetCardStatus(ctx context.Context, q database.Querier, id string, status CardStatus) error {
	_, err := q.Exec(ctx, `UPDATE cards SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating card status: %w", err)
	}
	return nil
}

const accountSelect = `
	SELECT id, external_id, client_id, account_type, currency, balance_minor, status, opened_via_agreement_id, created_at, updated_at
	FROM accounts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanAccount(row rowScanner) (Account, error) {
	return s.scanAccountRow(row)
}

func (s *Store) scanAccountRow(row rowScanner) (Account, error) {
	var a Account
	var accountType, status, currency string
	var balanceMinor int64
	var agreementID *string

	err := row.Scan(&a.ID, &a.ExternalID, &a.ClientID, &accountType, &currency, &balanceMinor, &status, &agreementID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Account{}, database.ErrNotFound
		}
		return Account{}, fmt.Errorf("scanning account: %w", err)
	}

	a.Type = AccountType(accountType)
	a.Status = AccountStatus(status)
	a.Currency = money.Currency(currency)
	a.Balance = money.New(balanceMinor, a.Currency)
	if agreementID != nil {
		a.OpenedViaAgreementID = *agreementID
	}
	return a, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func spendLimitMinor(m *money.Money) *int64 {
	if m == nil {
		return nil
	}
	v := m.AmountMinor
	return &v
}

// Package bank implements the Bank Capital singleton: the sandbox's
// single row of solvency state backing loan disbursement and inter-bank
// settlement checks.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// ErrInsufficientCapital is returned when a debit would take capital
// negative.
var ErrInsufficientCapital = errors.New("insufficient bank capital")

// Capital is the bank's single row of solvency state.
type Capital struct {
	InitialCapital money.Money
	Current        money.Money
	TotalDeposits  money.Money
	TotalLoans     money.Money
	UpdatedAt      time.Time
}

// Service mutates and reads the bank capital singleton.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// NewService constructs a capital service.
func NewService(db *database.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Get returns the current capital snapshot.
func (s *Service) Get(ctx context.Context) (Capital, error) {
	return s.read(ctx, s.db)
}

func (s *Service) read(ctx context.Context, q database.Querier) (Capital, error) {
	var c Capital
	var currency string
	var currentMinor, initialMinor, depositsMinor, loansMinor int64

	err := q.QueryRow(ctx, `
		SELECT capital_minor, initial_capital_minor, total_deposits_minor, total_loans_minor, currency, updated_at
		FROM bank_capital WHERE id = 1
	`).Scan(&currentMinor, &initialMinor, &depositsMinor, &loansMinor, &currency, &c.UpdatedAt)
	if err != nil {
		return Capital{}, fmt.Errorf("reading bank capital: %w", err)
	}

	cur := money.Currency(currency)
	c.Current = money.New(currentMinor, cur)
	c.InitialCapital = money.New(initialMinor, cur)
	c.TotalDeposits = money.New(depositsMinor, cur)
	c.TotalLoans = money.New(loansMinor, cur)
	return c, nil
}

// RecordDeposit increases capital and the total-deposits counter when a
// client deposits funds into the bank (e.g. opening a deposit account).
// Opens its own transaction; use RecordDepositTx to compose into a
// caller-owned transaction instead.
func (s *Service) RecordDeposit(ctx context.Context, amount money.Money) error {
	return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		return s.RecordDepositTx(ctx, tx, amount)
	})
}

// RecordDepositTx is RecordDeposit composed into a transaction the caller
// already holds open, so the capital movement commits or rolls back
// together with whatever else that transaction does.
func (s *Service) RecordDepositTx(ctx context.Context, q database.Querier, amount money.Money) error {
	cur, err := s.lockForUpdate(ctx, q)
	if err != nil {
		return err
	}
	next, err := cur.Current.Add(amount)
	if err != nil {
		return err
	}
	deposits, err := cur.TotalDeposits.Add(amount)
	if err != nil {
		return err
	}
	return s.persist(ctx, q, next, deposits, cur.TotalLoans)
}

// DisburseLoan debits capital by the loan principal, failing with
// ErrInsufficientCapital if the bank cannot cover it. Opens its own
// transaction; use DisburseLoanTx to compose into a caller-owned one.
func (s *Service) DisburseLoan(ctx context.Context, principal money.Money) error {
	return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		return s.DisburseLoanTx(ctx, tx, principal)
	})
}

// DisburseLoanTx is DisburseLoan composed into a transaction the caller
// already holds open.
func (s *Service) DisburseLoanTx(ctx context.Context, q database.Querier, principal money.Money) error {
	cur, err := s.lockForUpdate(ctx, q)
	if err != nil {
		return err
	}
	if cur.Current.LessThan(principal) {
		return ErrInsufficientCapital
	}
	next, err := cur.Current.Sub(principal)
	if err != nil {
		return err
	}
	loans, err := cur.TotalLoans.Add(principal)
	if err != nil {
		return err
	}
	return s.persist(ctx, q, next, cur.TotalDeposits, loans)
}

// RecordLoanRepayment credits capital back when a loan agreement closes
// with an outstanding principal repaid. Opens its own transaction; use
// RecordLoanRepaymentTx to compose into a caller-owned one.
func (s *Service) RecordLoanRepayment(ctx context.Context, amount money.Money) error {
	return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		return s.RecordLoanRepaymentTx(ctx, tx, amount)
	})
}

// RecordLoanRepaymentTx is RecordLoanRepayment composed into a
// transaction the caller already holds open.
func (s *Service) RecordLoanRepaymentTx(ctx context.Context, q database.Querier, amount money.Money) error {
	cur, err := s.lockForUpdate(ctx, q)
	if err != nil {
		return err
	}
	next, err := cur.Current.Add(amount)
	if err != nil {
		return err
	}
	loans, err := cur.TotalLoans.Sub(amount)
	if err != nil {
		return err
	}
	if loans.IsNegative() {
		loans = money.Zero(loans.Currency)
	}
	return s.persist(ctx, q, next, cur.TotalDeposits, loans)
}

// Donate credits capital directly, the path used when a closing account
// donates its residual balance back to the bank rather than paying it
// out to an external destination. Allowed unconditionally, regardless of
// account type. Opens its own transaction; use DonateTx to compose into
// a caller-owned one.
func (s *Service) Donate(ctx context.Context, amount money.Money) error {
	if amount.IsZero() {
		return nil
	}
	return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		return s.DonateTx(ctx, tx, amount)
	})
}

// DonateTx is Donate composed into a transaction the caller already
// holds open.
func (s *Service) DonateTx(ctx context.Context, q database.Querier, amount money.Money) error {
	if amount.IsZero() {
		return nil
	}
	cur, err := s.lockForUpdate(ctx, q)
	if err != nil {
		return err
	}
	next, err := cur.Current.Add(amount)
	if err != nil {
		return err
	}
	return s.persist(ctx, q, next, cur.TotalDeposits, cur.TotalLoans)
}

// AdjustForInterbankSettlement moves capital by delta (positive for an
// inbound settlement credit, negative for an outbound debit). Treats
// cross-currency transfers 1:1 in this sandbox rather than converting.
// Opens its own transaction; use AdjustForInterbankSettlementTx to
// compose into a caller-owned one.
func (s *Service) AdjustForInterbankSettlement(ctx context.Context, delta money.Money) error {
	return s.db.WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		return s.AdjustForInterbankSettlementTx(ctx, tx, delta)
	})
}

// AdjustForInterbankSettlementTx is AdjustForInterbankSettlement
// composed into a transaction the caller already holds open — the case
// the payment engine uses, so a settlement failure rolls back the local
// ledger legs too.
func (s *Service) AdjustForInterbankSettlementTx(ctx context.Context, q database.Querier, delta money.Money) error {
	cur, err := s.lockForUpdate(ctx, q)
	if err != nil {
		return err
	}
	var next money.Money
	if delta.IsNegative() {
		if cur.Current.LessThan(delta.Abs()) {
			return ErrInsufficientCapital
		}
		next, err = cur.Current.Sub(delta.Abs())
	} else {
		next, err = cur.Current.Add(delta)
	}
	if err != nil {
		return err
	}
	return s.persist(ctx, q, next, cur.TotalDeposits, cur.TotalLoans)
}

func (s *Service) lockForUpdate(ctx context.Context, q database.Querier) (Capital, error) {
	var c Capital
	var currency string
	var currentMinor, initialMinor, depositsMinor, loansMinor int64

	err := q.QueryRow(ctx, `
		SELECT capital_minor, initial_capital_minor, total_deposits_minor, total_loans_minor, currency, updated_at
		FROM bank_capital WHERE id = 1 FOR UPDATE
	`).Scan(&currentMinor, &initialMinor, &depositsMinor, &loansMinor, &currency, &c.UpdatedAt)
	if err != nil {
		return Capital{}, fmt.Errorf("locking bank capital: %w", err)
	}

	cur := money.Currency(currency)
	c.Current = money.New(currentMinor, cur)
	c.InitialCapital = money.New(initialMinor, cur)
	c.TotalDeposits = money.New(depositsMinor, cur)
	c.TotalLoans = money.New(loansMinor, cur)
	return c, nil
}

func (s *Service) persist(ctx context.Context, q database.Querier, current, deposits, loans money.Money) error {
	_, err := q.Exec(ctx, `
		UPDATE bank_capital
		SET capital_minor = $1, total_deposits_minor = $2, total_loans_minor = $3, updated_at = now()
		WHERE id = 1
	`, current.AmountMinor, deposits.AmountMinor, loans.AmountMinor)
	if err != nil {
		return fmt.Errorf("updating bank capital: %w", err)
	}
	return nil
}

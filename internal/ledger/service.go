package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"banksandbox/internal/bank"
	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// Service is the ledger's transactional API: account opening, direct
// funding, closure, and card issuance. Payment execution lives in the
// payment engine, which composes Store methods inside its own
// transaction rather than calling through Service, so that a payment's
// debit and credit legs commit atomically together.
type Service struct {
	store   *Store
	capital *bank.Service
}

// NewService constructs a ledger service. capital backs the donate
// disposition of a direct account closure.
func NewService(store *Store, capital *bank.Service) *Service {
	return &Service{store: store, capital: capital}
}

// OpenAccountRequest opens a new account for a client.
type OpenAccountRequest struct {
	ClientID             string
	Type                 AccountType
	Currency             money.Currency
	OpenedViaAgreementID string
}

// OpenAccount creates a new account with a zero balance.
func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (Account, error) {
	a := NewAccount(ulid.Make().String(), "acct-"+ulid.Make().String(), req.ClientID, req.Type, req.Currency)
	a.OpenedViaAgreementID = req.OpenedViaAgreementID

	if err := s.store.CreateAccount(ctx, s.store.DB(), a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetAccount fetches an account by internal id.
func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	return s.store.GetAccount(ctx, s.store.DB(), id)
}

// GetAccountByExternalID fetches an account by external id.
func (s *Service) GetAccountByExternalID(ctx context.Context, externalID string) (Account, error) {
	return s.store.GetAccountByExternalID(ctx, s.store.DB(), externalID)
}

// ListAccountsByClient lists a client's accounts.
func (s *Service) ListAccountsByClient(ctx context.Context, clientID string) ([]Account, error) {
	return s.store.ListAccountsByClient(ctx, s.store.DB(), clientID)
}

// ListTransactions returns a page of an account's transaction history.
func (s *Service) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, int64, error) {
	return s.store.ListTransactions(ctx, s.store.DB(), accountID, limit, offset)
}

// Fund credits an account directly (e.g. an initial deposit product
// funding), recording a single credit transaction under serializable
// isolation.
func (s *Service) Fund(ctx context.Context, accountID string, amount money.Money, description string) (Transaction, error) {
	var txn Transaction
	err := s.store.DB().WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		acct, err := s.store.GetAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := acct.CanCredit(); err != nil {
			return err
		}

		newBalance, err := acct.Balance.Add(amount)
		if err != nil {
			return err
		}

		if err := s.store.SetBalance(ctx, tx, accountID, newBalance); err != nil {
			return err
		}

		txn = Transaction{
			ID:           ulid.Make().String(),
			ExternalID:   "txn-" + ulid.Make().String(),
			AccountID:    accountID,
			Direction:    Credit,
			Amount:       amount,
			BalanceAfter: newBalance,
			Description:  description,
			CreatedAt:    acct.UpdatedAt,
		}
		return s.store.AppendTransaction(ctx, tx, txn)
	})
	if err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// FreezeAccount suspends debits and credits on an account.
func (s *Service) FreezeAccount(ctx context.Context, accountID string) error {
	return s.store.DB().WithTx(ctx, func(tx pgx.Tx) error {
		acct, err := s.store.GetAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := acct.Freeze(); err != nil {
			return err
		}
		return s.store.SetStatus(ctx, tx, accountID, acct.Status)
	})
}

// UnfreezeAccount restores a frozen account to active.
func (s *Service) UnfreezeAccount(ctx context.Context, accountID string) error {
	return s.store.DB().WithTx(ctx, func(tx pgx.Tx) error {
		acct, err := s.store.GetAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := acct.Unfreeze(); err != nil {
			return err
		}
		return s.store.SetStatus(ctx, tx, accountID, acct.Status)
	})
}

// CloseAccount closes an account directly. A positive residual balance
// must be resolved first: disposition transfers it to another account
// of the same client (destinationExternalID required) or donates it to
// bank capital. A zero-balance account closes with either disposition.
// Agreement-opened accounts go through agreement.Service.Close instead,
// which applies its own loan-repayment and residual-donation rules and
// updates the account through ledger.Store without calling this method.
func (s *Service) CloseAccount(ctx context.Context, accountID string, disposition CloseDisposition, destinationExternalID string) error {
	return s.store.DB().WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		acct, err := s.store.GetAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if acct.Balance.IsPositive() {
			switch disposition {
			case CloseTransfer:
				if err := s.transferResidual(ctx, tx, acct, destinationExternalID); err != nil {
					return err
				}
			case CloseDonate:
				if err := s.donateResidual(ctx, tx, acct); err != nil {
					return err
				}
			default:
				return ErrUnknownDisposition
			}
			acct.Balance = money.Zero(acct.Currency)
			if err := s.store.SetBalance(ctx, tx, acct.ID, acct.Balance); err != nil {
				return err
			}
		}

		if err := acct.Close(); err != nil {
			return err
		}
		return s.store.SetStatus(ctx, tx, accountID, acct.Status)
	})
}

// transferResidual debits the closing account's residual balance and
// credits it to another account belonging to the same client.
func (s *Service) transferResidual(ctx context.Context, tx pgx.Tx, acct Account, destinationExternalID string) error {
	if destinationExternalID == "" {
		return ErrDestinationRequired
	}
	dest, err := s.store.GetAccountByExternalID(ctx, tx, destinationExternalID)
	if err != nil {
		return ErrDestinationNotFound
	}
	dest, err = s.store.GetAccountForUpdate(ctx, tx, dest.ID)
	if err != nil {
		return ErrDestinationNotFound
	}
	if dest.ClientID != acct.ClientID {
		return ErrDestinationNotSameClient
	}
	if err := dest.CanCredit(); err != nil {
		return err
	}

	residual := acct.Balance
	newDestBalance, err := dest.Balance.Add(residual)
	if err != nil {
		return err
	}
	if err := s.store.SetBalance(ctx, tx, dest.ID, newDestBalance); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.store.AppendTransaction(ctx, tx, Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             acct.ID,
		CounterpartyAccountID: dest.ID,
		Direction:             Debit,
		Amount:                residual,
		BalanceAfter:          money.Zero(residual.Currency),
		Description:           "residual balance transferred on account closure",
		CreatedAt:             now,
	}); err != nil {
		return err
	}
	return s.store.AppendTransaction(ctx, tx, Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             dest.ID,
		CounterpartyAccountID: acct.ID,
		Direction:             Credit,
		Amount:                residual,
		BalanceAfter:          newDestBalance,
		Description:           "residual balance received from closed account",
		CreatedAt:             now,
	})
}

// donateResidual debits the closing account's residual balance and
// donates it to bank capital.
func (s *Service) donateResidual(ctx context.Context, tx pgx.Tx, acct Account) error {
	residual := acct.Balance
	if err := s.store.AppendTransaction(ctx, tx, Transaction{
		ID:           ulid.Make().String(),
		ExternalID:   "txn-" + ulid.Make().String(),
		AccountID:    acct.ID,
		Direction:    Debit,
		Amount:       residual,
		BalanceAfter: money.Zero(residual.Currency),
		Description:  "residual balance donated on account closure",
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}
	return s.capital.DonateTx(ctx, tx, residual)
}

// IssueCardRequest requests a new card against a card account.
type IssueCardRequest struct {
	AccountID         string
	Brand             CardBrand
	Type              CardType
	PAN               string
	HolderName        string
	Expiry            time.Time
	DailySpendLimit   *money.Money
	MonthlySpendLimit *money.Money
}

// IssueCard validates and stores a new card instrument. A card without
// an explicit expiry is minted with a standard four-year validity.
func (s *Service) IssueCard(ctx context.Context, req IssueCardRequest) (Card, error) {
	if !ValidLuhn(req.PAN) {
		return Card{}, fmt.Errorf("card number fails Luhn validation")
	}

	now := time.Now().UTC()
	expiry := req.Expiry
	if expiry.IsZero() {
		expiry = now.AddDate(4, 0, 0)
	}

	c := Card{
		ID:                ulid.Make().String(),
		ExternalID:        "card-" + ulid.Make().String(),
		AccountID:         req.AccountID,
		PANLast4:          req.PAN[len(req.PAN)-4:],
		PANHash:           hashPAN(req.PAN),
		Brand:             req.Brand,
		Type:              req.Type,
		HolderName:        req.HolderName,
		Expiry:            expiry,
		Status:            CardActive,
		DailySpendLimit:   req.DailySpendLimit,
		MonthlySpendLimit: req.MonthlySpendLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateCard(ctx, s.store.DB(), c); err != nil {
		return Card{}, err
	}
	return c, nil
}

// BlockCard blocks a card.
func (s *Service) BlockCard(ctx context.Context, id string) error {
	c, err := s.store.GetCard(ctx, s.store.DB(), id)
	if err != nil {
		return err
	}
	if err := c.Block(); err != nil {
		return err
	}
	return s.store.SetCardStatus(ctx, s.store.DB(), id, c.Status)
}

// UnblockCard restores a blocked card to active.
func (s *Service) UnblockCard(ctx context.Context, id string) error {
	c, err := s.store.GetCard(ctx, s.store.DB(), id)
	if err != nil {
		return err
	}
	if err := c.Unblock(); err != nil {
		return err
	}
	return s.store.SetCardStatus(ctx, s.store.DB(), id, c.Status)
}

// hashPAN is a placeholder digest standing in for a real HSM-backed PAN
// tokenization service, out of scope for the sandbox.
func hashPAN(pan string) string {
	sum := 0
	for _, r := range pan {
		sum = sum*31 + int(r)
	}
	return fmt.Sprintf("%x", sum)
}

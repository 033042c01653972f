package agreement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"banksandbox/internal/bank"
	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
	"banksandbox/internal/consent"
	"banksandbox/internal/ledger"
)

// Service is the Product Agreement Manager's transactional API:
// product opening and closing, calling internal/ledger and
// internal/bank rather than posting directly, per the manager's own
// shared-resource policy.
type Service struct {
	store    *Store
	ledger   *ledger.Store
	consents *consent.Store
	capital  *bank.Service
	catalog  *Catalog
}

// NewService constructs a product agreement service.
func NewService(store *Store, ledgerStore *ledger.Store, consents *consent.Store, capital *bank.Service, catalog *Catalog) *Service {
	return &Service{store: store, ledger: ledgerStore, consents: consents, capital: capital, catalog: catalog}
}

// OpenInput describes a request to open a product agreement.
type OpenInput struct {
	ClientID              string
	Kind                  ProductKind
	Amount                money.Money
	SourceAccountExternalID string // required to fund deposit; optional to fund card/credit_card
	ConsentExternalID     string // required when mediated under an institution token
	Institution           string // the institution the consent must be granted to; empty for client self-service
}

// Open validates the product's catalog bounds, gates on consent when
// the caller is an institution, and opens the derived account — all
// within one transaction, per the manager's §4.5 opening rules.
func (s *Service) Open(ctx context.Context, in OpenInput) (Agreement, error) {
	entry, err := s.catalog.Lookup(in.Kind)
	if err != nil {
		return Agreement{}, err
	}
	if err := entry.CheckBounds(in.Amount); err != nil {
		return Agreement{}, err
	}

	var result Agreement
	txErr := s.store.DB().WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		var consentHeader *consent.Header
		if in.Institution != "" {
			if in.ConsentExternalID == "" {
				return consent.ErrConsentRequired
			}
			h, err := s.checkConsent(ctx, tx, in)
			if err != nil {
				return err
			}
			consentHeader = &h
		}

		now := time.Now().UTC()
		a := Agreement{
			ID:         ulid.Make().String(),
			ExternalID: "agr-" + ulid.Make().String(),
			ClientID:   in.ClientID,
			Kind:       in.Kind,
			Principal:  in.Amount,
			Status:     StatusActive,
			OpenedAt:   now,
		}
		if consentHeader != nil {
			a.ConsentID = consentHeader.ID
		}

		acctType, err := accountTypeFor(in.Kind)
		if err != nil {
			return err
		}
		account := ledger.NewAccount(ulid.Make().String(), "acct-"+ulid.Make().String(), in.ClientID, acctType, in.Amount.Currency)
		account.OpenedViaAgreementID = a.ID
		if in.Kind == ProductLoan {
			account.Balance = in.Amount
		}

		// The account row must exist before any transaction referencing
		// it as counterparty is appended, so create it zero-funded (or
		// loan-principal-funded, which posts no transaction leg) first
		// and fund it afterward.
		if err := s.ledger.CreateAccount(ctx, tx, account); err != nil {
			return err
		}
		a.AccountID = account.ID

		switch in.Kind {
		case ProductDeposit:
			if in.SourceAccountExternalID == "" {
				return ErrSourceAccountRequired
			}
			if err := s.fundFromSource(ctx, tx, in.SourceAccountExternalID, account, in.Amount, "deposit opening"); err != nil {
				return err
			}
		case ProductLoan:
			if err := s.capital.DisburseLoanTx(ctx, tx, in.Amount); err != nil {
				if errors.Is(err, bank.ErrInsufficientCapital) {
					return ErrInsufficientCapital
				}
				return err
			}
		case ProductCard, ProductCreditCard:
			if in.Amount.IsPositive() {
				if in.SourceAccountExternalID == "" {
					return ErrSourceAccountRequired
				}
				if err := s.fundFromSource(ctx, tx, in.SourceAccountExternalID, account, in.Amount, "card funding"); err != nil {
					return err
				}
			}
		}

		if consentHeader != nil {
			if err := consentHeader.Consume(now); err != nil {
				return err
			}
			if err := s.consents.Persist(ctx, tx, *consentHeader); err != nil {
				return err
			}
		}

		if err := s.store.Create(ctx, tx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if txErr != nil {
		return Agreement{}, txErr
	}
	return result, nil
}

// fundFromSource debits the caller-nominated source account and credits
// the new product account by amount, recording both transaction legs,
// the same debit/credit pair the payment engine posts for a transfer.
func (s *Service) fundFromSource(ctx context.Context, tx pgx.Tx, sourceExternalID string, dst ledger.Account, amount money.Money, description string) error {
	srcByExternal, err := s.ledger.GetAccountByExternalID(ctx, tx, sourceExternalID)
	if err != nil {
		return ErrSourceNotFound
	}
	src, err := s.ledger.GetAccountForUpdate(ctx, tx, srcByExternal.ID)
	if err != nil {
		return ErrSourceNotFound
	}
	if err := src.CanDebit(amount); err != nil {
		return err
	}

	newSrcBalance, err := src.Balance.Sub(amount)
	if err != nil {
		return err
	}
	if err := s.ledger.SetBalance(ctx, tx, src.ID, newSrcBalance); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             src.ID,
		CounterpartyAccountID: dst.ID,
		Direction:             ledger.Debit,
		Amount:                amount,
		BalanceAfter:          newSrcBalance,
		Description:           description,
		CreatedAt:             now,
	}); err != nil {
		return err
	}

	if err := s.ledger.SetBalance(ctx, tx, dst.ID, amount); err != nil {
		return err
	}
	if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             dst.ID,
		CounterpartyAccountID: src.ID,
		Direction:             ledger.Credit,
		Amount:                amount,
		BalanceAfter:          amount,
		Description:           description,
		CreatedAt:             now,
	}); err != nil {
		return err
	}
	return nil
}

func (s *Service) checkConsent(ctx context.Context, tx pgx.Tx, in OpenInput) (consent.Header, error) {
	h, err := s.consents.GetByExternalID(ctx, tx, in.ConsentExternalID)
	if err != nil {
		return consent.Header{}, consent.ErrInvalidConsent
	}
	h, err = s.consents.GetForUpdate(ctx, tx, h.ID)
	if err != nil {
		return consent.Header{}, consent.ErrInvalidConsent
	}
	now := time.Now().UTC()
	if !h.IsUsable(now) {
		return consent.Header{}, consent.ErrInvalidConsent
	}
	if h.Kind != consent.KindProductAgreement {
		return consent.Header{}, consent.ErrInvalidConsent
	}
	if h.Grantee != in.Institution {
		return consent.Header{}, consent.ErrInvalidConsent
	}

	var payload consent.ProductAgreementPayload
	if err := h.DecodePayload(&payload); err != nil {
		return consent.Header{}, consent.ErrInvalidConsent
	}
	if payload.ProductKind != string(in.Kind) {
		return consent.Header{}, consent.ErrConsentMismatch
	}
	if in.Amount.Currency != payload.MaxPrincipal.Currency || in.Amount.GreaterThan(payload.MaxPrincipal) {
		return consent.Header{}, consent.ErrConsentMismatch
	}
	return h, nil
}

// CloseInput describes a request to close a product agreement.
type CloseInput struct {
	RepaymentAccountExternalID string // required when closing a loan with an outstanding balance
}

// Close closes an agreement. A loan with an outstanding principal must
// be repaid from a nominated account first, restoring bank capital;
// every other product simply closes its account, donating any residual
// balance back to capital per the account ledger's closure rule.
func (s *Service) Close(ctx context.Context, externalID string, in CloseInput) (Agreement, error) {
	var result Agreement
	txErr := s.store.DB().WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		byExternal, err := s.store.GetByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		a, err := s.store.GetForUpdate(ctx, tx, byExternal.ID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ErrAlreadyClosed
		}

		account, err := s.ledger.GetAccountForUpdate(ctx, tx, a.AccountID)
		if err != nil {
			return err
		}

		if a.Kind == ProductLoan && account.Balance.IsPositive() {
			if err := s.repayLoan(ctx, tx, in, account); err != nil {
				return err
			}
			account.Balance = money.Zero(account.Currency)
		} else if account.Balance.IsPositive() {
			if err := s.donateResidual(ctx, tx, account); err != nil {
				return err
			}
			account.Balance = money.Zero(account.Currency)
		}

		if err := s.ledger.SetBalance(ctx, tx, account.ID, account.Balance); err != nil {
			return err
		}
		if err := account.Close(); err != nil {
			return err
		}
		if err := s.ledger.SetStatus(ctx, tx, account.ID, account.Status); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := a.close(now); err != nil {
			return err
		}
		if err := s.store.SetStatus(ctx, tx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if txErr != nil {
		return Agreement{}, txErr
	}
	return result, nil
}

// repayLoan debits the debt from the nominated repayment account and
// restores the principal to bank capital.
func (s *Service) repayLoan(ctx context.Context, tx pgx.Tx, in CloseInput, loanAccount ledger.Account) error {
	if in.RepaymentAccountExternalID == "" {
		return ErrRepaymentAccountNeeded
	}
	debt := loanAccount.Balance

	repayByExternal, err := s.ledger.GetAccountByExternalID(ctx, tx, in.RepaymentAccountExternalID)
	if err != nil {
		return ErrRepaymentNotFound
	}
	repay, err := s.ledger.GetAccountForUpdate(ctx, tx, repayByExternal.ID)
	if err != nil {
		return ErrRepaymentNotFound
	}
	if err := repay.CanDebit(debt); err != nil {
		return err
	}

	newRepayBalance, err := repay.Balance.Sub(debt)
	if err != nil {
		return err
	}
	if err := s.ledger.SetBalance(ctx, tx, repay.ID, newRepayBalance); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             repay.ID,
		CounterpartyAccountID: loanAccount.ID,
		Direction:             ledger.Debit,
		Amount:                debt,
		BalanceAfter:          newRepayBalance,
		Description:           "loan repayment",
		CreatedAt:             now,
	}); err != nil {
		return err
	}
	if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
		ID:                    ulid.Make().String(),
		ExternalID:            "txn-" + ulid.Make().String(),
		AccountID:             loanAccount.ID,
		CounterpartyAccountID: repay.ID,
		Direction:             ledger.Credit,
		Amount:                debt,
		BalanceAfter:          money.Zero(debt.Currency),
		Description:           "loan repayment",
		CreatedAt:             now,
	}); err != nil {
		return err
	}

	return s.capital.RecordLoanRepaymentTx(ctx, tx, debt)
}

// donateResidual debits a closing account's residual balance and
// donates it to bank capital, the default disposition for a product
// agreement closure that doesn't name another destination account.
func (s *Service) donateResidual(ctx context.Context, tx pgx.Tx, account ledger.Account) error {
	residual := account.Balance
	now := time.Now().UTC()
	if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
		ID:           ulid.Make().String(),
		ExternalID:   "txn-" + ulid.Make().String(),
		AccountID:    account.ID,
		Direction:    ledger.Debit,
		Amount:       residual,
		BalanceAfter: money.Zero(residual.Currency),
		Description:  "residual balance donated on account closure",
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	return s.capital.DonateTx(ctx, tx, residual)
}

func accountTypeFor(kind ProductKind) (ledger.AccountType, error) {
	switch kind {
	case ProductDeposit:
		return ledger.AccountDeposit, nil
	case ProductLoan:
		return ledger.AccountLoan, nil
	case ProductCard, ProductCreditCard:
		return ledger.AccountCard, nil
	default:
		return "", ErrUnknownProduct
	}
}

// Get fetches an agreement by external id.
func (s *Service) Get(ctx context.Context, externalID string) (Agreement, error) {
	return s.store.GetByExternalID(ctx, s.store.DB(), externalID)
}

// ListByClient lists a client's agreements.
func (s *Service) ListByClient(ctx context.Context, clientID string) ([]Agreement, error) {
	return s.store.ListByClient(ctx, s.store.DB(), clientID)
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"banksandbox/internal/bank"
	"banksandbox/internal/common/database"
	"banksandbox/internal/common/events"
	"banksandbox/internal/common/money"
	"banksandbox/internal/consent"
	"banksandbox/internal/interbank"
	"banksandbox/internal/ledger"
)

// Service is the Payment Engine's transactional API: single-payment and
// VRP execution, intra-bank and inter-bank.
type Service struct {
	store    *Store
	ledger   *ledger.Store
	consents *consent.Store
	capital  *bank.Service
	settler  interbank.Settler
	publisher events.EventPublisher
	logger   *slog.Logger
	bankCode string
}

// NewService constructs a payment service.
func NewService(store *Store, ledgerStore *ledger.Store, consents *consent.Store, capital *bank.Service, settler interbank.Settler, publisher events.EventPublisher, logger *slog.Logger, bankCode string) *Service {
	return &Service{
		store:     store,
		ledger:    ledgerStore,
		consents:  consents,
		capital:   capital,
		settler:   settler,
		publisher: publisher,
		logger:    logger,
		bankCode:  bankCode,
	}
}

// InitiateInput describes a requested money movement.
type InitiateInput struct {
	FromAccountExternalID string
	ToAccountExternalID   string // local target, empty when inter-bank
	ToBankCode            string // required when target isn't found locally
	Amount                money.Money
	Description           string
	ConsentExternalID     string // required when mediated under an institution token
	Institution           string // the institution the consent must be granted to; empty for client self-payments
	IdempotencyKey        string
}

// Initiate executes a single payment end to end: resolve source and
// target, gate on consent, gate on balance, apply debit/credit/capital
// changes, and persist the terminal payment record — all within one
// transaction, per the single-payment state machine.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Payment, error) {
	return s.execute(ctx, in, false)
}

// InitiateVRP executes one payment against a standing VRP mandate,
// applying the same pipeline plus the VRP's per-payment and per-period
// cap guards.
func (s *Service) InitiateVRP(ctx context.Context, in InitiateInput) (Payment, error) {
	return s.execute(ctx, in, true)
}

func (s *Service) execute(ctx context.Context, in InitiateInput, isVRP bool) (Payment, error) {
	if in.IdempotencyKey != "" {
		if existing, err := s.store.GetByIdempotencyKey(ctx, s.store.DB(), in.IdempotencyKey); err == nil {
			return existing, nil
		}
	}

	var result Payment
	txErr := s.store.DB().WithTxOptions(ctx, database.SerializableTxOptions(), func(tx pgx.Tx) error {
		srcByExternal, err := s.ledger.GetAccountByExternalID(ctx, tx, in.FromAccountExternalID)
		if err != nil {
			return ErrSourceNotFound
		}
		src, err := s.ledger.GetAccountForUpdate(ctx, tx, srcByExternal.ID)
		if err != nil {
			return ErrSourceNotFound
		}

		var dst ledger.Account
		localTarget := false
		if in.ToAccountExternalID != "" {
			if dstByExternal, derr := s.ledger.GetAccountByExternalID(ctx, tx, in.ToAccountExternalID); derr == nil {
				if d, lerr := s.ledger.GetAccountForUpdate(ctx, tx, dstByExternal.ID); lerr == nil && d.Status == ledger.AccountActive {
					dst = d
					localTarget = true
				}
			}
		}
		if !localTarget && in.ToBankCode == "" {
			return fmt.Errorf("target account %q not found locally and no destination bank code supplied", in.ToAccountExternalID)
		}

		var consentHeader *consent.Header
		if in.Institution != "" && in.ConsentExternalID == "" {
			return ErrConsentRequired
		}
		if in.ConsentExternalID != "" {
			h, err := s.checkConsent(ctx, tx, in, isVRP)
			if err != nil {
				return err
			}
			consentHeader = &h
		}

		if err := src.CanDebit(in.Amount); err != nil {
			return err
		}
		if localTarget {
			if err := dst.CanCredit(); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		p := Payment{
			ID:             ulid.Make().String(),
			ExternalID:     "pay-" + ulid.Make().String(),
			FromAccountID:  src.ID,
			ToAccountID:    dst.ID,
			ToBankCode:     in.ToBankCode,
			Amount:         in.Amount,
			Description:    in.Description,
			Status:         StatusPending,
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      now,
		}
		if consentHeader != nil {
			p.ConsentID = consentHeader.ID
		}

		created, replayed, err := s.store.Create(ctx, tx, p)
		if err != nil {
			return err
		}
		if replayed {
			result = created
			return nil
		}
		p = created

		newSrcBalance, err := src.Balance.Sub(in.Amount)
		if err != nil {
			return err
		}
		if err := s.ledger.SetBalance(ctx, tx, src.ID, newSrcBalance); err != nil {
			return err
		}
		if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
			ID:                    ulid.Make().String(),
			ExternalID:            "txn-" + ulid.Make().String(),
			AccountID:             src.ID,
			CounterpartyAccountID: dst.ID,
			Direction:             ledger.Debit,
			Amount:                in.Amount,
			BalanceAfter:          newSrcBalance,
			PaymentID:             p.ID,
			Description:           in.Description,
			CreatedAt:             now,
		}); err != nil {
			return err
		}

		if localTarget {
			newDstBalance, err := dst.Balance.Add(in.Amount)
			if err != nil {
				return err
			}
			if err := s.ledger.SetBalance(ctx, tx, dst.ID, newDstBalance); err != nil {
				return err
			}
			if err := s.ledger.AppendTransaction(ctx, tx, ledger.Transaction{
				ID:                    ulid.Make().String(),
				ExternalID:            "txn-" + ulid.Make().String(),
				AccountID:             dst.ID,
				CounterpartyAccountID: src.ID,
				Direction:             ledger.Credit,
				Amount:                in.Amount,
				BalanceAfter:          newDstBalance,
				PaymentID:             p.ID,
				Description:           in.Description,
				CreatedAt:             now,
			}); err != nil {
				return err
			}
		} else {
			if err := s.capital.AdjustForInterbankSettlementTx(ctx, tx, in.Amount.Negate()); err != nil {
				return err
			}
			transferID := interbank.NewTransferID()
			if err := s.store.CreateInterbankTransfer(ctx, tx, InterbankTransfer{
				ID:           ulid.Make().String(),
				TransferID:   transferID,
				PaymentID:    p.ID,
				FromBankCode: s.bankCode,
				ToBankCode:   in.ToBankCode,
				Amount:       in.Amount,
				Status:       TransferProcessing,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			if err := s.settler.Settle(ctx, transferID, s.bankCode, in.ToBankCode, in.Amount); err != nil {
				return fmt.Errorf("settling inter-bank transfer: %w", err)
			}
		}

		p.complete(now)
		if err := s.store.SetStatus(ctx, tx, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if txErr != nil {
		return s.recordFailure(ctx, in, txErr)
	}

	s.publish(ctx, events.EventPaymentCompleted, events.PaymentCompletedData{
		PaymentID:   result.ExternalID,
		FromAccount: in.FromAccountExternalID,
		ToAccount:   in.ToAccountExternalID,
		AmountMinor: result.Amount.AmountMinor,
		Currency:    string(result.Amount.Currency),
		CompletedAt: *result.CompletedAt,
	})
	return result, nil
}

// checkConsent validates and consumes the payment or VRP consent named
// by the request, inside the caller's open transaction so the consume
// commits atomically with the debit. payment consents are single-shot;
// VRP consents are validated against their per-payment and per-period
// caps and left authorized, with their executed-amount counter bumped.
func (s *Service) checkConsent(ctx context.Context, tx pgx.Tx, in InitiateInput, isVRP bool) (consent.Header, error) {
	h, err := s.consents.GetByExternalID(ctx, tx, in.ConsentExternalID)
	if err != nil {
		return consent.Header{}, ErrInvalidConsent
	}
	h, err = s.consents.GetForUpdate(ctx, tx, h.ID)
	if err != nil {
		return consent.Header{}, ErrInvalidConsent
	}

	now := time.Now().UTC()
	if !h.IsUsable(now) {
		return consent.Header{}, ErrInvalidConsent
	}
	if in.Institution != "" && h.Grantee != in.Institution {
		return consent.Header{}, ErrInvalidConsent
	}

	if isVRP {
		if h.Kind != consent.KindVRP {
			return consent.Header{}, ErrInvalidConsent
		}
		var payload consent.VRPPayload
		if err := h.DecodePayload(&payload); err != nil {
			return consent.Header{}, ErrInvalidConsent
		}
		if err := s.matchConsentParties(payload.FromAccountExternalID, payload.ToAccountExternalID, payload.ToBankCode, in); err != nil {
			return consent.Header{}, err
		}

		// A mandate that hit its cap in a prior period is usable again
		// once "now" has rolled into a new calendar-aligned period.
		payload.RollPeriod(now)

		if err := payload.CheckGuards(in.Amount, now); err != nil {
			switch {
			case errors.Is(err, consent.ErrConsentMismatch):
				return consent.Header{}, ErrConsentMismatch
			case errors.Is(err, consent.ErrVRPCapExceeded):
				return consent.Header{}, ErrVRPCapExceeded
			case errors.Is(err, consent.ErrVRPValidityWindow):
				return consent.Header{}, ErrInvalidConsent
			default:
				return consent.Header{}, err
			}
		}
		if err := payload.Reserve(in.Amount); err != nil {
			return consent.Header{}, err
		}

		encoded, err := consent.EncodePayload(payload)
		if err != nil {
			return consent.Header{}, err
		}
		h.Payload = encoded
		h.UpdatedAt = now
		if err := s.consents.Persist(ctx, tx, h); err != nil {
			return consent.Header{}, err
		}
		return h, nil
	}

	if h.Kind != consent.KindPayment {
		return consent.Header{}, ErrInvalidConsent
	}
	var payload consent.PaymentPayload
	if err := h.DecodePayload(&payload); err != nil {
		return consent.Header{}, ErrInvalidConsent
	}
	if err := s.matchConsentParties(payload.FromAccountExternalID, payload.ToAccountExternalID, payload.ToBankCode, in); err != nil {
		return consent.Header{}, err
	}
	if in.Amount.Currency != payload.Amount.Currency || in.Amount.GreaterThan(payload.Amount) {
		return consent.Header{}, ErrConsentMismatch
	}

	if err := h.Consume(now); err != nil {
		return consent.Header{}, ErrInvalidConsent
	}
	if err := s.consents.Persist(ctx, tx, h); err != nil {
		return consent.Header{}, err
	}
	return h, nil
}

func (s *Service) matchConsentParties(fromExternalID, toExternalID, toBankCode string, in InitiateInput) error {
	if fromExternalID != in.FromAccountExternalID {
		return ErrConsentMismatch
	}
	if in.ToAccountExternalID != "" && toExternalID != in.ToAccountExternalID {
		return ErrConsentMismatch
	}
	if in.ToAccountExternalID == "" && toBankCode != in.ToBankCode {
		return ErrConsentMismatch
	}
	return nil
}

// recordFailure builds a failed payment record and publishes a
// payment.failed event for it, then returns the original error to the
// caller. The failed record is not persisted.
func (s *Service) recordFailure(ctx context.Context, in InitiateInput, cause error) (Payment, error) {
	p := Payment{
		ID:             ulid.Make().String(),
		ExternalID:     "pay-" + ulid.Make().String(),
		Amount:         in.Amount,
		Description:    in.Description,
		Status:         StatusFailed,
		IdempotencyKey: in.IdempotencyKey,
		FailureReason:  cause.Error(),
		CreatedAt:      time.Now().UTC(),
	}
	s.publish(ctx, events.EventPaymentFailed, events.PaymentFailedData{
		PaymentID: p.ExternalID,
		Reason:    cause.Error(),
	})
	return Payment{}, cause
}

// Get fetches a payment by external id.
func (s *Service) Get(ctx context.Context, externalID string) (Payment, error) {
	return s.store.GetByExternalID(ctx, s.store.DB(), externalID)
}

func (s *Service) publish(ctx context.Context, eventType string, data interface{}) {
	if s.publisher == nil {
		return
	}
	evt, err := events.NewEvent(eventType, s.bankCode, "payment", "", data)
	if err != nil {
		s.logger.Warn("failed to build payment event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish payment event", "error", err)
	}
}

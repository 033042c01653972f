// Package ledger implements the Account Ledger: per-client demand
// accounts, their card instruments, and an immutable transaction log.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"banksandbox/internal/common/money"
)

// AccountType is the product shape backing an account.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountDeposit  AccountType = "deposit"
	AccountCard     AccountType = "card"
	AccountLoan     AccountType = "loan"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

var ErrAccountNotActive = errors.New("account is not active")
var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrInvalidTransition = errors.New("invalid account status transition")

// CloseDisposition names what happens to a positive residual balance
// when an account closes directly (as opposed to via an agreement
// closure, which the Product Agreement Manager drives itself).
type CloseDisposition string

const (
	CloseTransfer CloseDisposition = "transfer"
	CloseDonate   CloseDisposition = "donate"
)

var (
	ErrDestinationRequired      = errors.New("a destination account is required to transfer the residual balance")
	ErrDestinationNotFound      = errors.New("destination account not found")
	ErrDestinationNotSameClient = errors.New("destination account does not belong to the same client")
	ErrUnknownDisposition       = errors.New("unknown close disposition")
)

// Account is a client's demand account, card account, or loan account.
type Account struct {
	ID                    string
	ExternalID            string
	ClientID              string
	Type                  AccountType
	Currency              money.Currency
	Balance               money.Money
	Status                AccountStatus
	OpenedViaAgreementID  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewAccount constructs an account with a zero opening balance.
func NewAccount(id, externalID, clientID string, accountType AccountType, currency money.Currency) Account {
	now := time.Now().UTC()
	return Account{
		ID:         id,
		ExternalID: externalID,
		ClientID:   clientID,
		Type:       accountType,
		Currency:   currency,
		Balance:    money.Zero(currency),
		Status:     AccountActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanDebit reports whether an amount can be debited from this account.
// Loan accounts carry their outstanding principal as a positive balance
// and are never directly debited by a payment; every other
// account type must cover the debit from available balance.
func (a Account) CanDebit(amount money.Money) error {
	if a.Status != AccountActive {
		return ErrAccountNotActive
	}
	if a.Type == AccountLoan {
		return fmt.Errorf("loan accounts cannot be debited by a payment")
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

// CanCredit reports whether an amount can be credited to this account.
func (a Account) CanCredit() error {
	if a.Status != AccountActive {
		return ErrAccountNotActive
	}
	return nil
}

// Close transitions an account to closed. Only an active or frozen
// account may close; a closed account cannot close again.
func (a *Account) Close() error {
	if a.Status == AccountClosed {
		return ErrInvalidTransition
	}
	a.Status = AccountClosed
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Freeze transitions an active account to frozen.
func (a *Account) Freeze() error {
	if a.Status != AccountActive {
		return ErrInvalidTransition
	}
	a.Status = AccountFrozen
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Unfreeze transitions a frozen account back to active.
func (a *Account) Unfreeze() error {
	if a.Status != AccountFrozen {
		return ErrInvalidTransition
	}
	a.Status = AccountActive
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Direction is the sign of a ledger entry.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Transaction is one immutable entry in an account's transaction log.
type Transaction struct {
	ID                    string
	ExternalID            string
	AccountID             string
	CounterpartyAccountID string
	Direction             Direction
	Amount                money.Money
	BalanceAfter          money.Money
	PaymentID             string
	Description           string
	CreatedAt             time.Time
}

// CardBrand identifies the card network.
type CardBrand string

const (
	CardBrandVisa       CardBrand = "visa"
	CardBrandMastercard CardBrand = "mastercard"
)

// CardType distinguishes a debit card, which draws directly against its
// account's balance, from a credit card, which draws against a credit
// line settled through the card account separately.
type CardType string

const (
	CardTypeDebit  CardType = "debit"
	CardTypeCredit CardType = "credit"
)

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
	CardExpired CardStatus = "expired"
)

// Card is a card instrument attached to a card account: a capability
// over its account, not an independent ledger. Spending limits are
// tracked separately per day and per month.
type Card struct {
	ID                string
	ExternalID        string
	AccountID         string
	PANLast4          string
	PANHash           string
	Brand             CardBrand
	Type              CardType
	HolderName        string
	Expiry            time.Time
	Status            CardStatus
	DailySpendLimit   *money.Money
	MonthlySpendLimit *money.Money
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Block transitions a card to blocked. An expired card cannot be
// blocked; it is already unusable.
func (c *Card) Block() error {
	if c.Status == CardExpired {
		return ErrInvalidTransition
	}
	c.Status = CardBlocked
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Unblock restores a blocked card to active.
func (c *Card) Unblock() error {
	if c.Status != CardBlocked {
		return ErrInvalidTransition
	}
	c.Status = CardActive
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ExpireIfPast transitions the card to expired once now has passed its
// expiry date. A no-op if it already has, or hasn't yet.
func (c *Card) ExpireIfPast(now time.Time) {
	if c.Status != CardExpired && !now.Before(c.Expiry) {
		c.Status = CardExpired
		c.UpdatedAt = now
	}
}

// WithinSpendLimits reports whether amount can be charged without the
// day's or month's running total breaching whichever cap is set.
func (c Card) WithinSpendLimits(amount, spentToday, spentThisMonth money.Money) bool {
	if c.DailySpendLimit != nil {
		if t, err := spentToday.Add(amount); err != nil || t.GreaterThan(*c.DailySpendLimit) {
			return false
		}
	}
	if c.MonthlySpendLimit != nil {
		if t, err := spentThisMonth.Add(amount); err != nil || t.GreaterThan(*c.MonthlySpendLimit) {
			return false
		}
	}
	return true
}

// ValidLuhn reports whether a numeric PAN string passes the Luhn check,
// used to validate synthetic card numbers minted by the sandbox.
func ValidLuhn(pan string) bool {
	sum := 0
	alt := false
	for i := len(pan) - 1; i >= 0; i-- {
		d := int(pan[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// MaskPAN returns a card number masked to its last four digits.
func MaskPAN(pan string) string {
	if len(pan) < 4 {
		return "****"
	}
	return "**** **** **** " + pan[len(pan)-4:]
}

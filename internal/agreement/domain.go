// Package agreement implements the Product Agreement Manager: opening
// and closing the derived accounts bound to catalog products (deposit,
// loan, card, credit card), enforcing catalog bounds and the capital
// constraints loans place on the bank.
package agreement

import (
	"errors"
	"time"

	"banksandbox/internal/common/money"
)

// ProductKind is one of the four product shapes the manager opens.
type ProductKind string

const (
	ProductDeposit    ProductKind = "deposit"
	ProductLoan       ProductKind = "loan"
	ProductCard       ProductKind = "card"
	ProductCreditCard ProductKind = "credit_card"
)

// Status is an agreement's position in its lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusDefaulted Status = "defaulted"
)

var (
	ErrInvalidTransition      = errors.New("invalid agreement status transition")
	ErrUnknownProduct         = errors.New("unknown product")
	ErrAmountOutOfRange       = errors.New("amount is outside the product's catalog bounds")
	ErrSourceAccountRequired  = errors.New("a source account is required to fund this product")
	ErrSourceNotFound         = errors.New("source account not found")
	ErrInsufficientCapital    = errors.New("bank capital cannot cover this loan principal")
	ErrAlreadyClosed          = errors.New("agreement is already closed")
	ErrRepaymentAccountNeeded = errors.New("the loan carries an outstanding balance; a repayment account is required")
	ErrRepaymentNotFound      = errors.New("repayment account not found")
)

// Agreement binds a client to a product, producing a derived account.
type Agreement struct {
	ID         string
	ExternalID string
	ClientID   string
	ConsentID  string // internal consent id, empty for client self-service opening
	Kind       ProductKind
	AccountID  string
	Principal  money.Money
	Status     Status
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// close transitions an active agreement to closed.
func (a *Agreement) close(at time.Time) error {
	if a.Status != StatusActive {
		return ErrAlreadyClosed
	}
	a.Status = StatusClosed
	a.ClosedAt = &at
	return nil
}

// Package consent implements the Consent Registry: the five consent
// kinds a client can grant to an institution, their shared
// authorization state machine, and the notification queue that backs
// manual approval.
package consent

import (
	"encoding/json"
	"errors"
	"time"

	"banksandbox/internal/common/money"
)

// Kind is one of the five consent shapes the registry understands.
type Kind string

const (
	KindAccountAccess    Kind = "account_access"
	KindPayment          Kind = "payment"
	KindProductAgreement Kind = "product_agreement"
	KindVRP              Kind = "vrp"
	KindOffer            Kind = "offer"
)

// Status is the consent's position in its authorization lifecycle.
type Status string

const (
	StatusAwaitingAuthorization Status = "awaiting_authorization"
	StatusAuthorized            Status = "authorized"
	StatusRejected               Status = "rejected"
	StatusRevoked                Status = "revoked"
	StatusExpired                Status = "expired"
	StatusConsumed                Status = "consumed"
)

var (
	ErrInvalidTransition  = errors.New("invalid consent status transition")
	ErrConsentRequired    = errors.New("consent required")
	ErrInvalidConsent     = errors.New("consent is not valid for this access")
	ErrConsentMismatch    = errors.New("consent does not match the requested scope")
	ErrVRPCapExceeded     = errors.New("variable recurring payment cap exceeded")
	ErrVRPValidityWindow  = errors.New("now is outside the VRP mandate's validity window")
)

// Header is the state shared by every consent kind, regardless of its
// payload. The per-kind payload travels alongside it as JSON.
type Header struct {
	ID             string
	ExternalID     string
	Kind           Kind
	Status         Status
	ClientID       string
	Grantee        string // the institution/bank code the consent is granted to
	Payload        json.RawMessage
	SignedAt       *time.Time
	LastAccessTime *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Approve transitions an awaiting consent to authorized, stamping the
// signing time the way original_source's sign_consent does.
func (h *Header) Approve(now time.Time) error {
	if h.Status != StatusAwaitingAuthorization {
		return ErrInvalidTransition
	}
	h.Status = StatusAuthorized
	h.SignedAt = &now
	h.UpdatedAt = now
	return nil
}

// Reject transitions an awaiting consent to rejected.
func (h *Header) Reject(now time.Time) error {
	if h.Status != StatusAwaitingAuthorization {
		return ErrInvalidTransition
	}
	h.Status = StatusRejected
	h.UpdatedAt = now
	return nil
}

// Revoke transitions an authorized consent to revoked. Only the client
// that granted it may revoke it.
func (h *Header) Revoke(now time.Time) error {
	if h.Status != StatusAuthorized {
		return ErrInvalidTransition
	}
	h.Status = StatusRevoked
	h.UpdatedAt = now
	return nil
}

// Expire transitions an authorized consent past its expiry to expired.
func (h *Header) Expire(now time.Time) error {
	if h.Status != StatusAuthorized {
		return ErrInvalidTransition
	}
	h.Status = StatusExpired
	h.UpdatedAt = now
	return nil
}

// Consume transitions a single-use authorized consent (payment, product
// agreement) to consumed once acted on.
func (h *Header) Consume(now time.Time) error {
	if h.Status != StatusAuthorized {
		return ErrInvalidTransition
	}
	h.Status = StatusConsumed
	h.UpdatedAt = now
	return nil
}

// IsUsable reports whether the consent can currently back an access,
// i.e. authorized and not past its expiry.
func (h Header) IsUsable(now time.Time) bool {
	return h.Status == StatusAuthorized && now.Before(h.ExpiresAt)
}

// AccountAccessPayload backs read access to a client's account data.
type AccountAccessPayload struct {
	Permissions []string `json:"permissions"`
}

// PaymentPayload backs a single, amount-bound payment.
type PaymentPayload struct {
	FromAccountExternalID string      `json:"from_account_external_id"`
	ToAccountExternalID   string      `json:"to_account_external_id,omitempty"`
	ToBankCode            string      `json:"to_bank_code,omitempty"`
	Amount                money.Money `json:"amount"`
}

// ProductAgreementPayload backs opening a deposit/loan/card product.
type ProductAgreementPayload struct {
	ProductKind  string      `json:"product_kind"`
	MaxPrincipal money.Money `json:"max_principal"`
}

// PeriodType is the calendar-aligned recurrence window a VRP consent's
// per-period cap resets on.
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodYear  PeriodType = "year"
)

// VRPPayload backs a variable recurring payment mandate: a standing
// authorization capped per-payment and per-period, bounded by a total
// payment count and a validity window, consumed repeatedly rather than
// once per spec.md §4.1's four VRP guards.
type VRPPayload struct {
	FromAccountExternalID string      `json:"from_account_external_id"`
	ToAccountExternalID   string      `json:"to_account_external_id,omitempty"`
	ToBankCode            string      `json:"to_bank_code,omitempty"`
	MaxIndividualAmount   money.Money `json:"max_individual_amount"`
	MaxPeriodAmount       money.Money `json:"max_period_amount"`
	PeriodType            PeriodType  `json:"period_type"`
	PeriodStart           time.Time   `json:"period_start"`
	ExecutedPeriodAmount  money.Money `json:"executed_period_amount"`
	MaxPaymentsCount      int         `json:"max_payments_count"`
	ExecutedPaymentsCount int         `json:"executed_payments_count"`
	ValidFrom             time.Time   `json:"valid_from"`
	ValidTo               time.Time   `json:"valid_to"`
}

// CurrentPeriodStart returns the start of the calendar-aligned period
// of p.PeriodType containing now (UTC). Unknown period types are
// treated as month, the original_source default.
func (p VRPPayload) CurrentPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	switch p.PeriodType {
	case PeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		// Monday-aligned week, ISO-8601 style.
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return dayStart.AddDate(0, 0, -(weekday - 1))
	case PeriodYear:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		fallthrough
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// RollPeriod resets the executed-amount and executed-count counters
// when now has moved into a new calendar-aligned period, mutating p in
// place. Must be called before evaluating the per-period guards so a
// mandate that hit its cap in one period is usable again in the next,
// per spec.md §8's "Σ executed amounts in any period" invariant.
func (p *VRPPayload) RollPeriod(now time.Time) {
	currentStart := p.CurrentPeriodStart(now)
	if p.PeriodStart.Equal(currentStart) {
		return
	}
	p.PeriodStart = currentStart
	p.ExecutedPeriodAmount = money.Zero(p.MaxPeriodAmount.Currency)
	p.ExecutedPaymentsCount = 0
}

// CheckGuards evaluates the four VRP guards from spec.md §4.1 against a
// candidate payment amount, assuming RollPeriod has already been called
// for now. It does not mutate the counters; callers apply the reserved
// amount themselves with Reserve, inside the payment's transaction so
// that a later failed check rolls the reservation back.
func (p VRPPayload) CheckGuards(amount money.Money, now time.Time) error {
	if amount.Currency != p.MaxIndividualAmount.Currency {
		return ErrConsentMismatch
	}
	if amount.GreaterThan(p.MaxIndividualAmount) {
		return ErrVRPCapExceeded
	}
	executed, err := p.ExecutedPeriodAmount.Add(amount)
	if err != nil {
		return err
	}
	if executed.GreaterThan(p.MaxPeriodAmount) {
		return ErrVRPCapExceeded
	}
	if p.ExecutedPaymentsCount+1 > p.MaxPaymentsCount {
		return ErrVRPCapExceeded
	}
	if now.Before(p.ValidFrom) || !now.Before(p.ValidTo) {
		return ErrVRPValidityWindow
	}
	return nil
}

// Reserve records a successfully executed payment against the mandate,
// bumping both the per-period amount and the payment count.
func (p *VRPPayload) Reserve(amount money.Money) error {
	executed, err := p.ExecutedPeriodAmount.Add(amount)
	if err != nil {
		return err
	}
	p.ExecutedPeriodAmount = executed
	p.ExecutedPaymentsCount++
	return nil
}

// OfferPayload backs consent to receive and act on a targeted product
// offer.
type OfferPayload struct {
	OfferID string `json:"offer_id"`
	Terms   string `json:"terms"`
}

// DecodePayload unmarshals the header's raw payload into v.
func (h Header) DecodePayload(v interface{}) error {
	return json.Unmarshal(h.Payload, v)
}

// EncodePayload marshals v into JSON suitable for Header.Payload.
func EncodePayload(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

// Notification is a write-once, client-visible entry created whenever a
// consent request requires manual approval rather than being
// auto-approved.
type Notification struct {
	ID               string
	ClientID         string
	Type             string
	Title            string
	Message          string
	RelatedRequestID string
	Read             bool
	CreatedAt        time.Time
}

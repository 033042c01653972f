package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"banksandbox/internal/common/events"
)

// Config carries the per-kind auto-approve flags the sandbox exposes in
// place of original_source's runtime-mutable bank settings table.
type Config struct {
	AutoApproveAccountAccess    bool          `envconfig:"AUTO_APPROVE_ACCOUNT_ACCESS" default:"false"`
	AutoApprovePayment          bool          `envconfig:"AUTO_APPROVE_PAYMENT" default:"false"`
	AutoApproveProductAgreement bool          `envconfig:"AUTO_APPROVE_PRODUCT_AGREEMENT" default:"false"`
	AutoApproveVRP              bool          `envconfig:"AUTO_APPROVE_VRP" default:"false"`
	AutoApproveOffer            bool          `envconfig:"AUTO_APPROVE_OFFER" default:"true"`
	DefaultTTL                  time.Duration `envconfig:"CONSENT_DEFAULT_TTL" default:"8760h"`
}

func (c Config) autoApprove(kind Kind) bool {
	switch kind {
	case KindAccountAccess:
		return c.AutoApproveAccountAccess
	case KindPayment:
		return c.AutoApprovePayment
	case KindProductAgreement:
		return c.AutoApproveProductAgreement
	case KindVRP:
		return c.AutoApproveVRP
	case KindOffer:
		return c.AutoApproveOffer
	default:
		return false
	}
}

// Service is the Consent Registry's transactional API.
type Service struct {
	store     *Store
	cfg       Config
	publisher events.EventPublisher
	logger    *slog.Logger
	bankCode  string
}

// NewService constructs a consent service.
func NewService(store *Store, cfg Config, publisher events.EventPublisher, logger *slog.Logger, bankCode string) *Service {
	return &Service{store: store, cfg: cfg, publisher: publisher, logger: logger, bankCode: bankCode}
}

// Store exposes the underlying store for the payment and agreement
// packages that need to consume a consent inside their own transaction.
func (s *Service) Store() *Store {
	return s.store
}

// RequestInput describes a new consent request from a grantee
// institution (or the client themselves, for client-initiated grants).
type RequestInput struct {
	ClientID string
	Grantee  string
	Kind     Kind
	Payload  interface{}
}

// Request creates a new consent in AwaitingAuthorization, immediately
// authorizing it if the kind's auto-approve flag is set, and otherwise
// writing a client notification — mirroring original_source's
// create_consent_request.
func (s *Service) Request(ctx context.Context, in RequestInput) (Header, error) {
	payload, err := EncodePayload(in.Payload)
	if err != nil {
		return Header{}, fmt.Errorf("encoding consent payload: %w", err)
	}

	now := time.Now().UTC()
	h := Header{
		ID:         ulid.Make().String(),
		ExternalID: "req-" + ulid.Make().String(),
		Kind:       in.Kind,
		Status:     StatusAwaitingAuthorization,
		ClientID:   in.ClientID,
		Grantee:    in.Grantee,
		Payload:    payload,
		ExpiresAt:  now.Add(s.cfg.DefaultTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	autoApprove := s.cfg.autoApprove(in.Kind)
	if autoApprove {
		h.ExternalID = "consent-" + ulid.Make().String()
		h.Status = StatusAuthorized
		h.SignedAt = &now
	}

	err = s.store.DB().WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.Create(ctx, tx, h); err != nil {
			return err
		}
		if !autoApprove {
			n := Notification{
				ID:               ulid.Make().String(),
				ClientID:         in.ClientID,
				Type:             "consent_request",
				Title:            fmt.Sprintf("Access request from %s", in.Grantee),
				Message:          fmt.Sprintf("%s requests a %s consent", in.Grantee, in.Kind),
				RelatedRequestID: h.ExternalID,
				CreatedAt:        now,
			}
			if err := s.store.CreateNotification(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Header{}, err
	}

	s.publish(ctx, events.EventConsentRequested, h)
	if autoApprove {
		s.publish(ctx, events.EventConsentAuthorized, h)
	}

	return h, nil
}

// Approve authorizes a consent the client owns, stamping its signing
// time.
func (s *Service) Approve(ctx context.Context, externalID, clientID string) (Header, error) {
	h, err := s.transition(ctx, externalID, clientID, func(h *Header, now time.Time) error {
		return h.Approve(now)
	})
	if err != nil {
		return Header{}, err
	}
	s.publish(ctx, events.EventConsentAuthorized, h)
	return h, nil
}

// Reject rejects an awaiting consent the client owns.
func (s *Service) Reject(ctx context.Context, externalID, clientID string) (Header, error) {
	h, err := s.transition(ctx, externalID, clientID, func(h *Header, now time.Time) error {
		return h.Reject(now)
	})
	if err != nil {
		return Header{}, err
	}
	s.publish(ctx, events.EventConsentRejected, h)
	return h, nil
}

// Revoke revokes an authorized consent the client owns.
func (s *Service) Revoke(ctx context.Context, externalID, clientID string) (Header, error) {
	h, err := s.transition(ctx, externalID, clientID, func(h *Header, now time.Time) error {
		return h.Revoke(now)
	})
	if err != nil {
		return Header{}, err
	}
	s.publish(ctx, events.EventConsentRevoked, h)
	return h, nil
}

func (s *Service) transition(ctx context.Context, externalID, clientID string, fn func(h *Header, now time.Time) error) (Header, error) {
	var result Header
	err := s.store.DB().WithTx(ctx, func(tx pgx.Tx) error {
		h, err := s.store.GetByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if h.ClientID != clientID {
			return ErrInvalidConsent
		}
		if err := fn(&h, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.store.Persist(ctx, tx, h); err != nil {
			return err
		}
		result = h
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return result, nil
}

// CheckInput describes an access an institution is attempting to make,
// to be validated against the client's granted consents.
type CheckInput struct {
	ClientID          string
	Grantee           string
	RequiredPermissions []string
	ConsentExternalID *string
}

// CheckAccountAccess validates that the client has an authorized,
// non-expired account_access consent granted to grantee covering every
// required permission, touching last_access_time on success. Mirrors
// original_source's check_consent.
func (s *Service) CheckAccountAccess(ctx context.Context, in CheckInput) (Header, error) {
	candidates, err := s.store.ListActiveForGrantee(ctx, s.store.DB(), in.ClientID, in.Grantee, KindAccountAccess)
	if err != nil {
		return Header{}, err
	}

	now := time.Now().UTC()
	for _, h := range candidates {
		if !h.IsUsable(now) {
			continue
		}
		if in.ConsentExternalID != nil && h.ExternalID != *in.ConsentExternalID {
			continue
		}

		var payload AccountAccessPayload
		if err := h.DecodePayload(&payload); err != nil {
			continue
		}
		if !hasAllPermissions(payload.Permissions, in.RequiredPermissions) {
			continue
		}

		s.touchLastAccessBestEffort(ctx, h.ID, now)
		return h, nil
	}

	if in.ConsentExternalID != nil {
		return Header{}, ErrInvalidConsent
	}
	return Header{}, ErrConsentRequired
}

// touchLastAccessBestEffort updates last_access_time without failing
// the caller's read if the update itself errors — the update is the
// side effect, not the point, of a successful Check.
func (s *Service) touchLastAccessBestEffort(ctx context.Context, consentID string, at time.Time) {
	if err := s.store.TouchLastAccess(ctx, s.store.DB(), consentID, at); err != nil {
		s.logger.Warn("failed to update consent last_access_time", "consent_id", consentID, "error", err)
	}
}

func hasAllPermissions(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}

// ListNotifications returns a client's notification page.
func (s *Service) ListNotifications(ctx context.Context, clientID string, limit, offset int) ([]Notification, int64, error) {
	return s.store.ListNotifications(ctx, s.store.DB(), clientID, limit, offset)
}

// ListConsents lists every consent a client has granted.
func (s *Service) ListConsents(ctx context.Context, clientID string) ([]Header, error) {
	return s.store.ListByClient(ctx, s.store.DB(), clientID)
}

func (s *Service) publish(ctx context.Context, eventType string, h Header) {
	if s.publisher == nil {
		return
	}
	evt, err := events.NewEvent(eventType, s.bankCode, "consent", h.ID, events.ConsentAuthorizedData{
		ConsentID: h.ExternalID,
		Kind:      string(h.Kind),
		Grantee:   h.Grantee,
		Grantor:   h.ClientID,
	})
	if err != nil {
		s.logger.Warn("failed to build consent event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish consent event", "error", err)
	}
}

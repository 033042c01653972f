package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"banksandbox/internal/common/database"
)

// Store persists consents and their notifications. Methods take a
// database.Querier so the payment and agreement packages can consume
// and check consents inside their own serializable transaction.
type Store struct {
	db *database.DB
}

// NewStore constructs a consent store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for callers needing to open their own transaction.
func (s *Store) DB() *database.DB {
	return s.db
}

// Create inserts a new consent header.
func (s *Store) Create(ctx context.Context, q database.Querier, h Header) error {
	_, err := q.Exec(ctx, `
		INSERT INTO consents (id, external_id, kind, status, client_id, grantee, payload, signed_at, last_access_time, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, h.ID, h.ExternalID, h.Kind, h.Status, h.ClientID, h.Grantee, h.Payload, h.SignedAt, h.LastAccessTime, h.ExpiresAt, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating consent: %w", err)
	}
	return nil
}

// Get fetches a consent by internal id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (Header, error) {
	return s.scan(q.QueryRow(ctx, consentSelect+" WHERE id = $1", id))
}

// GetByExternalID fetches a consent by its external-facing id.
func (s *Store) GetByExternalID(ctx context.Context, q database.Querier, externalID string) (Header, error) {
	return s.scan(q.QueryRow(ctx, consentSelect+" WHERE external_id = $1", externalID))
}

// GetForUpdate fetches and row-locks a consent within an open
// transaction, used when a payment or VRP execution consumes it.
func (s *Store) GetForUpdate(ctx context.Context, q database.Querier, id string) (Header, error) {
	return s.scan(q.QueryRow(ctx, consentSelect+" WHERE id = $1 FOR UPDATE", id))
}

// ListActiveForGrantee lists a client's authorized, non-expired
// consents of a given kind granted to a specific institution.
func (s *Store) ListActiveForGrantee(ctx context.Context, q database.Querier, clientID, grantee string, kind Kind) ([]Header, error) {
	rows, err := q.Query(ctx, consentSelect+`
		WHERE client_id = $1 AND grantee = $2 AND kind = $3 AND status = $4
		ORDER BY created_at DESC
	`, clientID, grantee, kind, StatusAuthorized)
	if err != nil {
		return nil, fmt.Errorf("listing consents: %w", err)
	}
	defer rows.Close()

	var out []Header
	for rows.Next() {
		h, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListByClient lists every consent a client has ever granted.
func (s *Store) ListByClient(ctx context.Context, q database.Querier, clientID string) ([]Header, error) {
	rows, err := q.Query(ctx, consentSelect+` WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("listing consents: %w", err)
	}
	defer rows.Close()

	var out []Header
	for rows.Next() {
		h, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Persist writes back a header's status/signing/payload fields after an
// in-memory state-machine transition.
func (s *Store) Persist(ctx context.Context, q database.Querier, h Header) error {
	_, err := q.Exec(ctx, `
		UPDATE consents SET status = $1, signed_at = $2, payload = $3, updated_at = $4
		WHERE id = $5
	`, h.Status, h.SignedAt, h.Payload, h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("persisting consent: %w", err)
	}
	return nil
}

// TouchLastAccess updates last_access_time as a best-effort side
// effect of a successful Check — callers must not fail the read this
// backs if the update itself errors.
func (s *Store) TouchLastAccess(ctx context.Context, q database.Querier, id string, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE consents SET last_access_time = $1 WHERE id = $2`, at, id)
	return err
}

// CreateNotification inserts a client notification.
func (s *Store) CreateNotification(ctx context.Context, q database.Querier, n Notification) error {
	_, err := q.Exec(ctx, `
		INSERT INTO notifications (id, client_id, type, title, message, related_request_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.ClientID, n.Type, n.Title, n.Message, n.RelatedRequestID, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// ListNotifications returns a page of a client's notifications, newest
// first, with the total row count for pagination metadata.
func (s *Store) ListNotifications(ctx context.Context, q database.Querier, clientID string, limit, offset int) ([]Notification, int64, error) {
	var total int64
	if err := q.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting notifications: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, client_id, type, title, message, related_request_id, read, created_at
		FROM notifications WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var related *string
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Type, &n.Title, &n.Message, &related, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning notification: %w", err)
		}
		if related != nil {
			n.RelatedRequestID = *related
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// MarkNotificationRead flips a notification's read flag.
func (s *Store) MarkNotificationRead(ctx context.Context, q database.Querier, id string) error {
	_, err := q.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	return err
}

const consentSelect = `
	SELECT id, external_id, kind, status, client_id, grantee, payload, signed_at, last_access_time, expires_at, created_at, updated_at
	FROM consents`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scan(row rowScanner) (Header, error) {
	var h Header
	var kind, status string
	var payload []byte

	err := row.Scan(&h.ID, &h.ExternalID, &kind, &status, &h.ClientID, &h.Grantee, &payload, &h.SignedAt, &h.LastAccessTime, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Header{}, database.ErrNotFound
		}
		return Header{}, fmt.Errorf("scanning consent: %w", err)
	}

	h.Kind = Kind(kind)
	h.Status = Status(status)
	h.Payload = json.RawMessage(payload)
	return h, nil
}

// Package client models the sandbox's retail customer: the person a
// consent is granted by and an account belongs to.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"banksandbox/internal/common/database"
	"banksandbox/internal/common/money"
)

// Segment is a coarse customer classification used by offer targeting.
type Segment string

const (
	SegmentRetail  Segment = "retail"
	SegmentPremium Segment = "premium"
	SegmentStudent Segment = "student"
)

// Client is a bank customer.
type Client struct {
	ID              string
	ExternalID      string
	DisplayName     string
	Segment         Segment
	BirthYear       int
	DeclaredIncome  money.Money
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateRequest is the inbound payload for onboarding a client.
type CreateRequest struct {
	DisplayName    string  `json:"display_name" validate:"required,min=1,max=200"`
	Segment        Segment `json:"segment" validate:"required,oneof=retail premium student"`
	BirthYear      int     `json:"birth_year" validate:"required,gte=1900,lte=2100"`
	DeclaredIncome int64   `json:"declared_income_minor" validate:"gte=0"`
	Currency       string  `json:"currency" validate:"required,len=3"`
}

// Store persists clients.
type Store struct {
	db *database.DB
}

// NewStore constructs a client store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new client.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Client, error) {
	now := time.Now().UTC()
	c := Client{
		ID:             ulid.Make().String(),
		ExternalID:     "client-" + ulid.Make().String(),
		DisplayName:    req.DisplayName,
		Segment:        req.Segment,
		BirthYear:      req.BirthYear,
		DeclaredIncome: money.New(req.DeclaredIncome, money.Currency(req.Currency)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO clients (id, external_id, display_name, segment, birth_year, declared_income_minor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.ExternalID, c.DisplayName, c.Segment, c.BirthYear, c.DeclaredIncome.AmountMinor, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Client{}, fmt.Errorf("creating client: %w", err)
	}

	return c, nil
}

// Get retrieves a client by internal id.
func (s *Store) Get(ctx context.Context, id string) (Client, error) {
	var c Client
	var segment string
	var declaredIncome int64

	err := s.db.QueryRow(ctx, `
		SELECT id, external_id, display_name, segment, birth_year, declared_income_minor, created_at, updated_at
		FROM clients WHERE id = $1
	`, id).Scan(&c.ID, &c.ExternalID, &c.DisplayName, &segment, &c.BirthYear, &declaredIncome, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Client{}, database.ErrNotFound
		}
		return Client{}, fmt.Errorf("fetching client: %w", err)
	}

	c.Segment = Segment(segment)
	c.DeclaredIncome = money.New(declaredIncome, money.USD)
	return c, nil
}

// GetByExternalID retrieves a client by its external-facing id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (Client, error) {
	var c Client
	var segment string
	var declaredIncome int64

	err := s.db.QueryRow(ctx, `
		SELECT id, external_id, display_name, segment, birth_year, declared_income_minor, created_at, updated_at
		FROM clients WHERE external_id = $1
	`, externalID).Scan(&c.ID, &c.ExternalID, &c.DisplayName, &segment, &c.BirthYear, &declaredIncome, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if database.IsNotFound(err) {
			return Client{}, database.ErrNotFound
		}
		return Client{}, fmt.Errorf("fetching client: %w", err)
	}

	c.Segment = Segment(segment)
	c.DeclaredIncome = money.New(declaredIncome, money.USD)
	return c, nil
}

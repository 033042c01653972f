// Package token issues and verifies the three bearer-token classes the
// sandbox recognizes: client, institution, and staff.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"banksandbox/internal/common/middleware"
)

// Kind is a token class.
type Kind string

const (
	KindClient      Kind = "client"
	KindInstitution Kind = "institution"
	KindStaff       Kind = "staff"
)

// Config configures the token service's signing key and default expiry.
type Config struct {
	SigningKey string        `envconfig:"TOKEN_SIGNING_KEY" required:"true"`
	TTL        time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	Issuer     string        `envconfig:"TOKEN_ISSUER" default:"banksandbox"`
}

var ErrInvalidToken = errors.New("invalid or expired token")

// claims is the JWT payload shared by every token class.
type claims struct {
	jwt.RegisteredClaims
	Kind     Kind     `json:"kind"`
	ClientID string   `json:"client_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Service issues and verifies bearer tokens.
type Service struct {
	cfg Config
	key []byte
}

// NewService constructs a token service from config.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, key: []byte(cfg.SigningKey)}
}

// IssueClientToken issues a token identifying a client principal acting
// for themselves (e.g. granting their own consents).
func (s *Service) IssueClientToken(clientID string, scopes []string) (string, error) {
	return s.issue(KindClient, clientID, clientID, scopes)
}

// IssueInstitutionToken issues a token identifying a third-party
// institution acting on behalf of a named client under a consent.
func (s *Service) IssueInstitutionToken(institutionID, onBehalfOfClientID string, scopes []string) (string, error) {
	return s.issue(KindInstitution, institutionID, onBehalfOfClientID, scopes)
}

// IssueStaffToken issues a token identifying bank staff with
// operational scopes (e.g. approving overrides, adjusting settings).
func (s *Service) IssueStaffToken(staffID string, scopes []string) (string, error) {
	return s.issue(KindStaff, staffID, "", scopes)
}

func (s *Service) issue(kind Kind, subject, clientID string, scopes []string) (string, error) {
	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
		Kind:     kind,
		ClientID: clientID,
		Scopes:   scopes,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its principal.
// Implements middleware.TokenVerifier.
func (s *Service) Verify(ctx context.Context, tokenString string) (middleware.Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return middleware.Principal{}, ErrInvalidToken
	}

	return middleware.Principal{
		Kind:     string(c.Kind),
		ID:       c.Subject,
		ClientID: c.ClientID,
		Scopes:   c.Scopes,
	}, nil
}

var _ middleware.TokenVerifier = (*Service)(nil)

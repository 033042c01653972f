package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(Config{SigningKey: "test-signing-key", TTL: time.Hour, Issuer: "banksandbox-test"})
}

func TestIssueClientToken_verifiesToClientPrincipal(t *testing.T) {
	s := newTestService()

	tok, err := s.IssueClientToken("client-1", []string{"accounts:read"})
	require.NoError(t, err)

	principal, err := s.Verify(t.Context(), tok)
	require.NoError(t, err)
	require.Equal(t, "client", principal.Kind)
	require.Equal(t, "client-1", principal.ID)
	require.Equal(t, []string{"accounts:read"}, principal.Scopes)
}

func TestIssueInstitutionToken_carriesOnBehalfOfClient(t *testing.T) {
	s := newTestService()

	tok, err := s.IssueInstitutionToken("inst-1", "client-9", []string{"payments:initiate"})
	require.NoError(t, err)

	principal, err := s.Verify(t.Context(), tok)
	require.NoError(t, err)
	require.Equal(t, "institution", principal.Kind)
	require.Equal(t, "inst-1", principal.ID)
	require.Equal(t, "client-9", principal.ClientID)
}

func TestVerify_rejectsTokenSignedWithDifferentKey(t *testing.T) {
	s1 := NewService(Config{SigningKey: "key-one", TTL: time.Hour})
	s2 := NewService(Config{SigningKey: "key-two", TTL: time.Hour})

	tok, err := s1.IssueStaffToken("staff-1", nil)
	require.NoError(t, err)

	_, err = s2.Verify(t.Context(), tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_rejectsExpiredToken(t *testing.T) {
	s := NewService(Config{SigningKey: "test-signing-key", TTL: -time.Minute})

	tok, err := s.IssueClientToken("client-1", nil)
	require.NoError(t, err)

	_, err = s.Verify(t.Context(), tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

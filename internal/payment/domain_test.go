package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestPayment_complete(t *testing.T) {
	p := Payment{Status: StatusPending}
	now := time.Now().UTC()
	p.complete(now)

	require.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	require.Equal(t, now, *p.CompletedAt)
}

func TestPayment_fail(t *testing.T) {
	p := Payment{Status: StatusPending}
	p.fail("insufficient funds")

	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, "insufficient funds", p.FailureReason)
}

func TestMatchConsentParties(t *testing.T) {
	s := &Service{}

	in := InitiateInput{
		FromAccountExternalID: "acct-1",
		ToAccountExternalID:   "acct-2",
	}
	require.NoError(t, s.matchConsentParties("acct-1", "acct-2", "", in))
	require.Error(t, s.matchConsentParties("acct-9", "acct-2", "", in))
	require.Error(t, s.matchConsentParties("acct-1", "acct-3", "", in))

	interbankIn := InitiateInput{FromAccountExternalID: "acct-1", ToBankCode: "bank-y"}
	require.NoError(t, s.matchConsentParties("acct-1", "", "bank-y", interbankIn))
	require.Error(t, s.matchConsentParties("acct-1", "", "bank-z", interbankIn))
}

func TestMoney_amountComparisons(t *testing.T) {
	limit := money.New(5000, money.USD)
	over := money.New(5001, money.USD)
	require.True(t, over.GreaterThan(limit))
}

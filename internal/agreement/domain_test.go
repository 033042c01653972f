package agreement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAgreement_close_onlyFromActive(t *testing.T) {
	a := Agreement{Status: StatusActive}
	now := time.Now().UTC()

	require.NoError(t, a.close(now))
	require.Equal(t, StatusClosed, a.Status)
	require.NotNil(t, a.ClosedAt)
	require.Equal(t, now, *a.ClosedAt)

	require.ErrorIs(t, a.close(now), ErrAlreadyClosed)
}

func TestAccountTypeFor(t *testing.T) {
	cases := map[ProductKind]string{
		ProductDeposit:    "deposit",
		ProductLoan:       "loan",
		ProductCard:       "card",
		ProductCreditCard: "card",
	}
	for kind, want := range cases {
		got, err := accountTypeFor(kind)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	_, err := accountTypeFor(ProductKind("unknown"))
	require.ErrorIs(t, err, ErrUnknownProduct)
}

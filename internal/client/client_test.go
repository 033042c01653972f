package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestCreateRequest_declaredIncomeBecomesMoney(t *testing.T) {
	req := CreateRequest{
		DisplayName:    "Ada Lovelace",
		Segment:        SegmentRetail,
		BirthYear:      1990,
		DeclaredIncome: 500000,
		Currency:       "USD",
	}

	m := money.New(req.DeclaredIncome, money.Currency(req.Currency))
	require.Equal(t, int64(500000), m.AmountMinor)
	require.Equal(t, money.USD, m.Currency)
}

func TestSegment_knownValuesNonEmpty(t *testing.T) {
	for _, s := range []Segment{SegmentRetail, SegmentPremium, SegmentStudent} {
		require.NotEmpty(t, s)
	}
}

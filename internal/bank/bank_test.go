package bank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestCapital_fieldsRoundTrip(t *testing.T) {
	c := Capital{
		InitialCapital: money.New(1_000_00, money.USD),
		Current:        money.New(900_00, money.USD),
		TotalDeposits:  money.New(200_00, money.USD),
		TotalLoans:     money.New(300_00, money.USD),
	}
	require.True(t, c.Current.LessThan(c.InitialCapital))
	require.Equal(t, int64(200_00), c.TotalDeposits.AmountMinor)
}

func TestErrInsufficientCapital_isDistinctError(t *testing.T) {
	require.ErrorIs(t, ErrInsufficientCapital, ErrInsufficientCapital)
	require.EqualError(t, ErrInsufficientCapital, "insufficient bank capital")
}

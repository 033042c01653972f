package agreement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestCatalog_Lookup_unknownProduct(t *testing.T) {
	c := DefaultCatalog()
	_, err := c.Lookup(ProductKind("nonsense"))
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestCatalogEntry_CheckBounds(t *testing.T) {
	c := DefaultCatalog()
	entry, err := c.Lookup(ProductDeposit)
	require.NoError(t, err)

	require.NoError(t, entry.CheckBounds(money.New(10000, money.USD)))                         // $100.00, within [10, 1000000]
	require.ErrorIs(t, entry.CheckBounds(money.New(500, money.USD)), ErrAmountOutOfRange)      // $5.00, below min
	require.ErrorIs(t, entry.CheckBounds(money.New(200_000_000, money.USD)), ErrAmountOutOfRange) // above max
}

func TestCatalogEntry_CheckBounds_currencyMismatch(t *testing.T) {
	c := DefaultCatalog()
	entry, err := c.Lookup(ProductLoan)
	require.NoError(t, err)

	err = entry.CheckBounds(money.New(10000, money.EUR))
	require.Error(t, err)
}

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestAccount_CanDebit_insufficientFunds(t *testing.T) {
	a := NewAccount("a1", "acct-1", "c1", AccountChecking, money.USD)
	a.Balance = money.New(500, money.USD)

	err := a.CanDebit(money.New(600, money.USD))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAccount_CanDebit_frozenAccountRejected(t *testing.T) {
	a := NewAccount("a1", "acct-1", "c1", AccountSavings, money.USD)
	a.Balance = money.New(10_000, money.USD)
	require.NoError(t, a.Freeze())

	err := a.CanDebit(money.New(100, money.USD))
	require.ErrorIs(t, err, ErrAccountNotActive)
}

func TestAccount_CanDebit_loanAccountNeverDebited(t *testing.T) {
	a := NewAccount("a1", "acct-1", "c1", AccountLoan, money.USD)
	err := a.CanDebit(money.New(100, money.USD))
	require.Error(t, err)
}

func TestAccount_Close_rejectsDoubleClose(t *testing.T) {
	a := NewAccount("a1", "acct-1", "c1", AccountChecking, money.USD)
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Close(), ErrInvalidTransition)
}

func TestAccount_FreezeUnfreeze_roundTrips(t *testing.T) {
	a := NewAccount("a1", "acct-1", "c1", AccountChecking, money.USD)
	require.NoError(t, a.Freeze())
	require.Equal(t, AccountFrozen, a.Status)
	require.NoError(t, a.Unfreeze())
	require.Equal(t, AccountActive, a.Status)
}

func TestCard_Block_rejectsExpiredCard(t *testing.T) {
	c := Card{Status: CardExpired}
	require.ErrorIs(t, c.Block(), ErrInvalidTransition)
}

func TestCard_BlockUnblock_roundTrips(t *testing.T) {
	c := Card{Status: CardActive}
	require.NoError(t, c.Block())
	require.Equal(t, CardBlocked, c.Status)
	require.NoError(t, c.Unblock())
	require.Equal(t, CardActive, c.Status)
}

func TestCard_Unblock_onlyFromBlocked(t *testing.T) {
	c := Card{Status: CardActive}
	require.ErrorIs(t, c.Unblock(), ErrInvalidTransition)
}

func TestCard_ExpireIfPast(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	c := Card{Status: CardActive, Expiry: now.Add(-time.Minute)}
	c.ExpireIfPast(now)
	require.Equal(t, CardExpired, c.Status)

	c = Card{Status: CardActive, Expiry: now.Add(time.Minute)}
	c.ExpireIfPast(now)
	require.Equal(t, CardActive, c.Status)
}

func TestCard_WithinSpendLimits(t *testing.T) {
	daily := money.New(10000, money.USD)
	monthly := money.New(50000, money.USD)
	c := Card{DailySpendLimit: &daily, MonthlySpendLimit: &monthly}

	require.True(t, c.WithinSpendLimits(money.New(1000, money.USD), money.New(8000, money.USD), money.New(20000, money.USD)))
	require.False(t, c.WithinSpendLimits(money.New(3000, money.USD), money.New(8000, money.USD), money.New(20000, money.USD)))
	require.False(t, c.WithinSpendLimits(money.New(1000, money.USD), money.New(0, money.USD), money.New(49500, money.USD)))

	unlimited := Card{}
	require.True(t, unlimited.WithinSpendLimits(money.New(1_000_000, money.USD), money.New(0, money.USD), money.New(0, money.USD)))
}

func TestValidLuhn(t *testing.T) {
	require.True(t, ValidLuhn("4111111111111111"))
	require.False(t, ValidLuhn("4111111111111112"))
}

func TestMaskPAN(t *testing.T) {
	require.Equal(t, "**** **** **** 1111", MaskPAN("4111111111111111"))
	require.Equal(t, "****", MaskPAN("12"))
}

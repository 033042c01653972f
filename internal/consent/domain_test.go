package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/money"
)

func TestHeader_Approve_onlyFromAwaitingAuthorization(t *testing.T) {
	h := Header{Status: StatusAwaitingAuthorization}
	require.NoError(t, h.Approve(time.Now()))
	require.Equal(t, StatusAuthorized, h.Status)
	require.NotNil(t, h.SignedAt)

	require.ErrorIs(t, h.Approve(time.Now()), ErrInvalidTransition)
}

func TestHeader_Revoke_onlyFromAuthorized(t *testing.T) {
	h := Header{Status: StatusAwaitingAuthorization}
	require.ErrorIs(t, h.Revoke(time.Now()), ErrInvalidTransition)

	h.Status = StatusAuthorized
	require.NoError(t, h.Revoke(time.Now()))
	require.Equal(t, StatusRevoked, h.Status)
}

func TestHeader_Consume_onlyFromAuthorized(t *testing.T) {
	h := Header{Status: StatusRejected}
	require.ErrorIs(t, h.Consume(time.Now()), ErrInvalidTransition)

	h.Status = StatusAuthorized
	require.NoError(t, h.Consume(time.Now()))
	require.Equal(t, StatusConsumed, h.Status)
}

func TestHeader_IsUsable_expiryEnforced(t *testing.T) {
	now := time.Now()
	h := Header{Status: StatusAuthorized, ExpiresAt: now.Add(-time.Hour)}
	require.False(t, h.IsUsable(now))

	h.ExpiresAt = now.Add(time.Hour)
	require.True(t, h.IsUsable(now))
}

func TestHasAllPermissions(t *testing.T) {
	granted := []string{"accounts:read", "transactions:read"}
	require.True(t, hasAllPermissions(granted, []string{"accounts:read"}))
	require.False(t, hasAllPermissions(granted, []string{"accounts:read", "payments:initiate"}))
}

func newMandate(periodType PeriodType, now time.Time) VRPPayload {
	p := VRPPayload{
		MaxIndividualAmount:  money.New(10000, money.USD),
		MaxPeriodAmount:      money.New(30000, money.USD),
		PeriodType:           periodType,
		MaxPaymentsCount:     3,
		ValidFrom:            now.Add(-time.Hour),
		ValidTo:              now.Add(24 * time.Hour),
		ExecutedPeriodAmount: money.Zero(money.USD),
	}
	p.PeriodStart = p.CurrentPeriodStart(now)
	return p
}

func TestVRPPayload_CurrentPeriodStart(t *testing.T) {
	now := time.Date(2026, time.March, 18, 15, 30, 0, 0, time.UTC) // Wednesday

	require.Equal(t,
		time.Date(2026, time.March, 18, 0, 0, 0, 0, time.UTC),
		VRPPayload{PeriodType: PeriodDay}.CurrentPeriodStart(now))

	require.Equal(t,
		time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC), // Monday of that week
		VRPPayload{PeriodType: PeriodWeek}.CurrentPeriodStart(now))

	require.Equal(t,
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		VRPPayload{PeriodType: PeriodMonth}.CurrentPeriodStart(now))

	require.Equal(t,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		VRPPayload{PeriodType: PeriodYear}.CurrentPeriodStart(now))

	// Unknown period types fall back to month.
	require.Equal(t,
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		VRPPayload{PeriodType: PeriodType("bogus")}.CurrentPeriodStart(now))
}

func TestVRPPayload_RollPeriod_resetsOnlyOnPeriodBoundary(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	require.NoError(t, p.Reserve(money.New(5000, money.USD)))
	require.Equal(t, 1, p.ExecutedPaymentsCount)

	// Later the same month: counters untouched.
	p.RollPeriod(now.Add(48 * time.Hour))
	require.Equal(t, 1, p.ExecutedPaymentsCount)
	require.True(t, p.ExecutedPeriodAmount.AmountMinor == 5000)

	// Into April: counters reset.
	p.RollPeriod(time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 0, p.ExecutedPaymentsCount)
	require.True(t, p.ExecutedPeriodAmount.IsZero())
}

func TestVRPPayload_CheckGuards_currencyMismatch(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	err := p.CheckGuards(money.New(1000, money.EUR), now)
	require.ErrorIs(t, err, ErrConsentMismatch)
}

func TestVRPPayload_CheckGuards_individualCap(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	err := p.CheckGuards(money.New(10001, money.USD), now)
	require.ErrorIs(t, err, ErrVRPCapExceeded)

	require.NoError(t, p.CheckGuards(money.New(10000, money.USD), now))
}

func TestVRPPayload_CheckGuards_periodCap(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	require.NoError(t, p.Reserve(money.New(10000, money.USD)))
	require.NoError(t, p.Reserve(money.New(10000, money.USD)))

	// A third payment of 10000 would push the period total to 30000,
	// exactly the cap, so this is fine...
	require.NoError(t, p.CheckGuards(money.New(10000, money.USD), now))

	// ...but a fourth payment's worth of amount on top of that isn't.
	require.NoError(t, p.Reserve(money.New(10000, money.USD)))
	err := p.CheckGuards(money.New(1, money.USD), now)
	require.ErrorIs(t, err, ErrVRPCapExceeded)
}

func TestVRPPayload_CheckGuards_paymentsCountCap(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	p.MaxPeriodAmount = money.New(1000000, money.USD) // isolate the count guard
	for i := 0; i < p.MaxPaymentsCount; i++ {
		require.NoError(t, p.CheckGuards(money.New(100, money.USD), now))
		require.NoError(t, p.Reserve(money.New(100, money.USD)))
	}
	err := p.CheckGuards(money.New(100, money.USD), now)
	require.ErrorIs(t, err, ErrVRPCapExceeded)
}

func TestVRPPayload_CheckGuards_validityWindow(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)

	p.ValidFrom = now.Add(time.Hour)
	require.ErrorIs(t, p.CheckGuards(money.New(100, money.USD), now), ErrVRPValidityWindow)

	p = newMandate(PeriodMonth, now)
	p.ValidTo = now.Add(-time.Minute)
	require.ErrorIs(t, p.CheckGuards(money.New(100, money.USD), now), ErrVRPValidityWindow)

	p = newMandate(PeriodMonth, now)
	p.ValidTo = now
	require.ErrorIs(t, p.CheckGuards(money.New(100, money.USD), now), ErrVRPValidityWindow)
}

func TestVRPPayload_Reserve_accumulates(t *testing.T) {
	now := time.Date(2026, time.March, 18, 10, 0, 0, 0, time.UTC)
	p := newMandate(PeriodMonth, now)
	require.NoError(t, p.Reserve(money.New(5000, money.USD)))
	require.NoError(t, p.Reserve(money.New(2500, money.USD)))
	require.Equal(t, int64(7500), p.ExecutedPeriodAmount.AmountMinor)
	require.Equal(t, 2, p.ExecutedPaymentsCount)
}

package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"banksandbox/internal/common/middleware"
)

func withPrincipal(ctx context.Context, kind, id string) context.Context {
	ctx = context.WithValue(ctx, middleware.PrincipalKindKey, kind)
	ctx = context.WithValue(ctx, middleware.PrincipalIDKey, id)
	return ctx
}

func TestDecide_ClientActingOnSelf_Allowed(t *testing.T) {
	m := NewMediator(nil)
	ctx := withPrincipal(context.Background(), "client", "client-1")

	d := m.Decide(ctx, Call{Op: OpGetAccountDetail, SubjectClientID: "client-1"})
	require.Equal(t, OutcomeAllowClient, d.Outcome)
}

func TestDecide_ClientActingOnOther_Denied(t *testing.T) {
	m := NewMediator(nil)
	ctx := withPrincipal(context.Background(), "client", "client-1")

	d := m.Decide(ctx, Call{Op: OpGetAccountDetail, SubjectClientID: "client-2"})
	require.Equal(t, OutcomeDeny, d.Outcome)
}

func TestDecide_InstitutionMismatchedHeader_Denied(t *testing.T) {
	m := NewMediator(nil)
	ctx := withPrincipal(context.Background(), "institution", "bank-x")

	d := m.Decide(ctx, Call{Op: OpGetAccountDetail, SubjectClientID: "client-1", RequestingInstitution: "bank-y"})
	require.Equal(t, OutcomeDeny, d.Outcome)
}

func TestDecide_StaffNonBackOffice_Denied(t *testing.T) {
	m := NewMediator(nil)
	ctx := withPrincipal(context.Background(), "staff", "ops-1")

	d := m.Decide(ctx, Call{Op: OpGetBalance, SubjectClientID: "client-1"})
	require.Equal(t, OutcomeDeny, d.Outcome)
}

func TestDecide_StaffBackOffice_Allowed(t *testing.T) {
	m := NewMediator(nil)
	ctx := withPrincipal(context.Background(), "staff", "ops-1")

	d := m.Decide(ctx, Call{Op: OpPostAccount, SubjectClientID: "client-1"})
	require.Equal(t, OutcomeAllowStaff, d.Outcome)
}

func TestPermissions_knownOp(t *testing.T) {
	require.Equal(t, []string{"ReadBalances"}, Permissions(OpGetBalance))
}

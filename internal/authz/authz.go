// Package authz implements the Authorization Mediator: a single
// per-call decision point that resource handlers consult before any
// read or write crossing the client/institution/staff boundary.
//
// It never touches storage beyond calling consent.Service.CheckAccountAccess
// (or the payment/agreement packages' own consent-consuming calls) and
// never reads resource state itself — it only decides.
package authz

import (
	"context"
	"errors"

	"banksandbox/internal/common/middleware"
	"banksandbox/internal/consent"
)

// Permission is a named capability a consent or staff scope may grant.
type Permission string

const (
	PermReadAccountsDetail     Permission = "ReadAccountsDetail"
	PermReadBalances           Permission = "ReadBalances"
	PermReadTransactionsDetail Permission = "ReadTransactionsDetail"
	PermReadCards              Permission = "ReadCards"
	PermManageCards            Permission = "ManageCards"
	PermManageAccounts         Permission = "ManageAccounts"
)

// Op identifies a protected operation for the purpose of the fixed
// permission-table lookup below.
type Op string

const (
	OpGetAccountDetail  Op = "get_account_detail"
	OpGetBalance        Op = "get_balance"
	OpGetTransactions   Op = "get_transactions"
	OpGetCards          Op = "get_cards"
	OpPostCard          Op = "post_card"
	OpPostAccount       Op = "post_account"
	OpPutAccountStatus  Op = "put_account_status"
)

// permissionTable maps operations to the permission set an institution
// consent must cover to perform them. Fixed per spec §4.2.
var permissionTable = map[Op][]Permission{
	OpGetAccountDetail: {PermReadAccountsDetail},
	OpGetBalance:       {PermReadBalances},
	OpGetTransactions:  {PermReadTransactionsDetail},
	OpGetCards:         {PermReadCards},
	OpPostCard:         {PermManageCards},
	OpPostAccount:      {PermManageAccounts},
	OpPutAccountStatus: {PermManageAccounts},
}

// Permissions returns the fixed permission set an operation requires of
// an institution's consent.
func Permissions(op Op) []string {
	perms := permissionTable[op]
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// Outcome is the tagged result of a Decide call.
type Outcome string

const (
	OutcomeAllowClient      Outcome = "allow_client"
	OutcomeAllowInstitution Outcome = "allow_institution"
	OutcomeAllowStaff       Outcome = "allow_staff"
	OutcomeConsentRequired  Outcome = "consent_required"
	OutcomeDeny             Outcome = "deny"
)

// Decision is the Mediator's tagged verdict. Resource components branch
// on Outcome rather than re-deriving the token-class logic themselves.
type Decision struct {
	Outcome Outcome
	Consent *consent.Header // populated on OutcomeAllowInstitution
	Hint    string           // populated on OutcomeConsentRequired/OutcomeDeny
}

// ErrDenied is returned by Decide's callers when they choose to treat a
// non-allow decision as an error rather than branching on Outcome.
var ErrDenied = errors.New("not authorized")

// staffBackOfficeOps are the operations staff tokens may perform
// regardless of the subject client — internal operator actions, not
// exposed to clients or institutions.
var staffBackOfficeOps = map[Op]bool{
	OpPostAccount:      true,
	OpPutAccountStatus: true,
}

// Call describes a single protected operation awaiting a decision.
type Call struct {
	Op                    Op
	SubjectClientID       string // the client the operation targets
	RequestingInstitution string // X-Requesting-Institution header value, for institution tokens
	ConsentExternalID     *string
}

// Mediator decides whether a call is allowed, dispatching on the
// caller's token class per spec §4.2's decision algorithm.
type Mediator struct {
	consents *consent.Service
}

// NewMediator constructs an Authorization Mediator.
func NewMediator(consents *consent.Service) *Mediator {
	return &Mediator{consents: consents}
}

// Decide runs the decision algorithm for a verified caller (resolved
// from context by middleware.BearerAuth) against a declared operation.
func (m *Mediator) Decide(ctx context.Context, call Call) Decision {
	kind := middleware.GetPrincipalKind(ctx)
	principalID := middleware.GetPrincipalID(ctx)

	switch kind {
	case "client":
		if principalID == call.SubjectClientID {
			return Decision{Outcome: OutcomeAllowClient}
		}
		return Decision{Outcome: OutcomeDeny, Hint: "clients may only act on their own resources"}

	case "institution":
		if call.RequestingInstitution == "" || call.RequestingInstitution != principalID {
			return Decision{Outcome: OutcomeDeny, Hint: "missing or mismatched requesting institution"}
		}

		h, err := m.consents.CheckAccountAccess(ctx, consent.CheckInput{
			ClientID:            call.SubjectClientID,
			Grantee:             principalID,
			RequiredPermissions: Permissions(call.Op),
			ConsentExternalID:   call.ConsentExternalID,
		})
		if err != nil {
			return Decision{
				Outcome: OutcomeConsentRequired,
				Hint:    consentHint(call.Op),
			}
		}
		return Decision{Outcome: OutcomeAllowInstitution, Consent: &h}

	case "staff":
		if staffBackOfficeOps[call.Op] {
			return Decision{Outcome: OutcomeAllowStaff}
		}
		return Decision{Outcome: OutcomeDeny, Hint: "staff tokens may not perform this operation"}

	default:
		return Decision{Outcome: OutcomeDeny, Hint: "unrecognized token class"}
	}
}

// consentHint names the consent kind and permissions an institution
// should request after a CONSENT_REQUIRED decision.
func consentHint(op Op) string {
	perms := Permissions(op)
	if len(perms) == 0 {
		return "request an account_access consent"
	}
	hint := "request an account_access consent with permissions"
	for _, p := range perms {
		hint += " " + p
	}
	return hint
}

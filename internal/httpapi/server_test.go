// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/clock"
	"github.com/dexspace/authregistry/internal/delegation"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/httpapi"
	"github.com/dexspace/authregistry/internal/policyset"
	"github.com/dexspace/authregistry/internal/token"
	"github.com/dexspace/authregistry/internal/trust"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	registryEORI = "EU.EORI.NL000000000"
	issuerEORI   = "EU.EORI.NL000000001"
	subjectEORI  = "EU.EORI.NL000000002"
)

type fakeDelegation struct {
	gotRequester string
	gotRequest   types.DelegationRequestContainer
	container    *types.DelegationEvidenceContainer
	err          error
	signed       string
}

func (f *fakeDelegation) Delegate(_ context.Context, requester string, container types.DelegationRequestContainer) (*types.DelegationEvidenceContainer, error) {
	f.gotRequester = requester
	f.gotRequest = container
	return f.container, f.err
}

func (f *fakeDelegation) SignToken(string, types.DelegationEvidenceContainer) (string, error) {
	return f.signed, nil
}

type fakePolicySets struct {
	gotRequester string
	gotFilter    store.Filter
	createdID    uuid.UUID
	adminCreated bool
	doc          *types.PolicySetDocument
	docs         []types.PolicySetDocument
	listResult   *policyset.ListResult
	err          error
}

func (f *fakePolicySets) Create(_ context.Context, requester string, _ types.PolicySetSpec) (uuid.UUID, error) {
	f.gotRequester = requester
	return f.createdID, f.err
}

func (f *fakePolicySets) CreateAdmin(_ context.Context, requester string, _ types.PolicySetSpec) (uuid.UUID, error) {
	f.gotRequester = requester
	f.adminCreated = true
	return f.createdID, f.err
}

func (f *fakePolicySets) Get(_ context.Context, requester string, _ uuid.UUID) (*types.PolicySetDocument, error) {
	f.gotRequester = requester
	return f.doc, f.err
}

func (f *fakePolicySets) ListOwn(_ context.Context, requester string) ([]types.PolicySetDocument, error) {
	f.gotRequester = requester
	return f.docs, f.err
}

func (f *fakePolicySets) List(_ context.Context, filter store.Filter) (*policyset.ListResult, error) {
	f.gotFilter = filter
	return f.listResult, f.err
}

func (f *fakePolicySets) AddPolicy(context.Context, string, uuid.UUID, types.Policy) (*types.StoredPolicyDocument, error) {
	return nil, f.err
}

func (f *fakePolicySets) ReplacePolicy(context.Context, string, uuid.UUID, uuid.UUID, types.Policy) (*types.StoredPolicyDocument, error) {
	return nil, f.err
}

func (f *fakePolicySets) RemovePolicy(context.Context, string, uuid.UUID, uuid.UUID) error {
	return f.err
}

func (f *fakePolicySets) Delete(_ context.Context, requester string, _ uuid.UUID) error {
	f.gotRequester = requester
	return f.err
}

type fakeAudit struct {
	gotClient     string
	gotController string
	gotQuery      audit.Query
	events        []audit.EventWithParties
	err           error
}

func (f *fakeAudit) Retrieve(_ context.Context, client, controller string, q audit.Query) ([]audit.EventWithParties, error) {
	f.gotClient = client
	f.gotController = controller
	f.gotQuery = q
	return f.events, f.err
}

type fakeAssertions struct {
	eori string
	err  error
}

func (f *fakeAssertions) VerifyClientAssertion(string, string) (string, error) {
	return f.eori, f.err
}

type fakeRegistry struct {
	adherent bool
	err      error
}

func (f *fakeRegistry) IsAdherent(context.Context, string) (bool, error) {
	return f.adherent, f.err
}

type fakeIDP struct {
	gotRedirect string
	gotState    string
	identity    *trust.UserIdentity
	err         error
}

func (f *fakeIDP) AuthURL(redirectURI, state string) string {
	f.gotRedirect = redirectURI
	f.gotState = state
	return "https://idp.example/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeIDP) ExchangeCode(context.Context, string, string) (*trust.UserIdentity, error) {
	return f.identity, f.err
}

type fakeSigner struct {
	capabilities string
	err          error
}

func (f *fakeSigner) SignDelegationToken(string, types.DelegationEvidenceContainer) (string, error) {
	return "", f.err
}

func (f *fakeSigner) CapabilitiesToken() (string, error) {
	return f.capabilities, f.err
}

type env struct {
	delegation *fakeDelegation
	policySets *fakePolicySets
	auditLog   *fakeAudit
	assertions *fakeAssertions
	registry   *fakeRegistry
	idp        *fakeIDP
	sessions   *token.Service
	handler    http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	e := &env{
		delegation: &fakeDelegation{},
		policySets: &fakePolicySets{createdID: uuid.New()},
		auditLog:   &fakeAudit{},
		assertions: &fakeAssertions{eori: issuerEORI},
		registry:   &fakeRegistry{adherent: true},
		idp:        &fakeIDP{},
		sessions:   token.NewService("test-secret", time.Hour, clock.Fixed{T: now}),
	}
	e.handler = httpapi.NewServer(httpapi.Deps{
		Delegation:  e.delegation,
		PolicySets:  e.policySets,
		AuditLog:    e.auditLog,
		Sessions:    e.sessions,
		Assertions:  e.assertions,
		Registry:    e.registry,
		IDP:         e.idp,
		Signer:      &fakeSigner{capabilities: "caps-token"},
		ClientEORI:  registryEORI,
		DeployRoute: "/",
	}).Handler()
	return e
}

func (e *env) bearer(t *testing.T, role token.Role) string {
	t.Helper()
	session, err := e.sessions.Create(role)
	require.NoError(t, err)
	return "Bearer " + session
}

func (e *env) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonDecode(rec *httptest.ResponseRecorder, out any) error {
	return json.NewDecoder(rec.Body).Decode(out)
}

func TestMachineToken(t *testing.T) {
	form := url.Values{
		"grant_type":            {"client_credentials"},
		"scope":                 {"iSHARE"},
		"client_id":             {issuerEORI},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {"header.payload.sig"},
	}

	post := func(e *env, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/connect/machine/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return e.do(t, req)
	}

	t.Run("adherent party gets a machine session", func(t *testing.T) {
		e := newEnv(t)
		rec := post(e, form)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"token_type":"Bearer"`)
		assert.Contains(t, rec.Body.String(), `"expires_in":3600`)

		var body struct {
			AccessToken string `json:"access_token"`
		}
		require.NoError(t, jsonDecode(rec, &body))
		role, err := e.sessions.Decode(body.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, token.RoleMachine, role.Kind)
		assert.Equal(t, issuerEORI, role.CompanyID)
	})

	t.Run("rejected assertion is a 401", func(t *testing.T) {
		e := newEnv(t)
		e.assertions.err = oops.Code(trust.CodeInvalidToken).Errorf("bad chain")
		assert.Equal(t, http.StatusUnauthorized, post(e, form).Code)
	})

	t.Run("non-adherent party is a 401", func(t *testing.T) {
		e := newEnv(t)
		e.registry.adherent = false
		assert.Equal(t, http.StatusUnauthorized, post(e, form).Code)
	})

	t.Run("wrong grant type is a 400", func(t *testing.T) {
		e := newEnv(t)
		bad := url.Values{}
		for k, v := range form {
			bad[k] = v
		}
		bad.Set("grant_type", "password")
		assert.Equal(t, http.StatusBadRequest, post(e, bad).Code)
	})

	t.Run("mismatched client_id is a 400", func(t *testing.T) {
		e := newEnv(t)
		bad := url.Values{}
		for k, v := range form {
			bad[k] = v
		}
		bad.Set("client_id", subjectEORI)
		assert.Equal(t, http.StatusBadRequest, post(e, bad).Code)
	})
}

func TestHumanLogin(t *testing.T) {
	t.Run("auth redirects to the identity provider", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/connect/human/auth?redirect_uri=https%3A%2F%2Fapp.example%2Fdone", nil)
		rec := e.do(t, req)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "https://idp.example/authorize")
		assert.Equal(t, "https://app.example/done", e.idp.gotState)
		assert.Contains(t, e.idp.gotRedirect, "/connect/human/code")
	})

	t.Run("code callback mints a session and bounces to state", func(t *testing.T) {
		e := newEnv(t)
		e.idp.identity = &trust.UserIdentity{
			UserID:    "user-1",
			CompanyID: issuerEORI,
			Roles:     []string{token.AdminRealmRole},
		}
		req := httptest.NewRequest(http.MethodGet, "/connect/human/code?code=abc&state=https%3A%2F%2Fapp.example%2Fdone", nil)
		rec := e.do(t, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example", location.Host)

		role, err := e.sessions.Decode(location.Query().Get("token"))
		require.NoError(t, err)
		assert.Equal(t, token.RoleHuman, role.Kind)
		assert.Equal(t, "user-1", role.UserID)
		assert.True(t, role.IsAdmin())
	})

	t.Run("missing redirect_uri is a 400", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/connect/human/auth", nil)
		assert.Equal(t, http.StatusBadRequest, e.do(t, req).Code)
	})
}

func TestSessionMiddleware(t *testing.T) {
	t.Run("missing bearer is a 401", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/delegation", strings.NewReader("{}"))
		assert.Equal(t, http.StatusUnauthorized, e.do(t, req).Code)
	})

	t.Run("garbage token is a 401", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/delegation", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, e.do(t, req).Code)
	})
}

func TestDelegation(t *testing.T) {
	body := `{"delegationRequest":{"policyIssuer":"` + issuerEORI + `","target":{"accessSubject":"` + subjectEORI + `"},"policySets":[]}}`

	post := func(e *env, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/delegation", strings.NewReader(body))
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(subjectEORI)))
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		return e.do(t, req)
	}

	t.Run("accept application/json returns the evidence container", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.container = &types.DelegationEvidenceContainer{
			DelegationEvidence: types.DelegationEvidence{PolicyIssuer: issuerEORI},
		}
		rec := post(e, "application/json")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, subjectEORI, e.delegation.gotRequester)
		assert.Equal(t, issuerEORI, e.delegation.gotRequest.DelegationRequest.PolicyIssuer)
		assert.Contains(t, rec.Body.String(), `"delegationEvidence"`)
		assert.NotContains(t, rec.Body.String(), `"delegation_token"`)
	})

	t.Run("signed delegation token is the default", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.container = &types.DelegationEvidenceContainer{}
		e.delegation.signed = "signed.delegation.token"
		rec := post(e, "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"delegation_token":"signed.delegation.token"`)
		assert.NotContains(t, rec.Body.String(), `"delegationEvidence"`)
	})

	t.Run("wildcard accept also yields the token", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.container = &types.DelegationEvidenceContainer{}
		e.delegation.signed = "signed.delegation.token"
		rec := post(e, "*/*")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"delegation_token":"signed.delegation.token"`)
	})

	t.Run("invalid request is a 400", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.err = oops.Code("INVALID_DELEGATION_REQUEST").Errorf("resource type must not be a wildcard")
		assert.Equal(t, http.StatusBadRequest, post(e, "").Code)
	})

	t.Run("third party is a 403", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.err = oops.Code(delegation.CodeAccessDenied).Errorf("requester is not a party to this delegation")
		assert.Equal(t, http.StatusForbidden, post(e, "").Code)
	})
}

func TestPolicySetLifecycle(t *testing.T) {
	spec := `{"policyIssuer":"` + issuerEORI + `","accessSubject":"` + subjectEORI + `","policies":[]}`

	t.Run("create returns the new id", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/policy-set", strings.NewReader(spec))
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		rec := e.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, issuerEORI, e.policySets.gotRequester)
		assert.Contains(t, rec.Body.String(), e.policySets.createdID.String())
		assert.False(t, e.policySets.adminCreated)
	})

	t.Run("foreign issuer without evidence is a 403", func(t *testing.T) {
		e := newEnv(t)
		e.policySets.err = oops.Code(policyset.CodeForbidden).Errorf("no delegation evidence")
		req := httptest.NewRequest(http.MethodPost, "/policy-set", strings.NewReader(spec))
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(subjectEORI)))
		assert.Equal(t, http.StatusForbidden, e.do(t, req).Code)
	})

	t.Run("unknown set is a 404", func(t *testing.T) {
		e := newEnv(t)
		e.policySets.err = oops.Code(store.CodePolicySetNotFound).Errorf("no such policy set")
		req := httptest.NewRequest(http.MethodGet, "/policy-set/"+uuid.NewString(), nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusNotFound, e.do(t, req).Code)
	})

	t.Run("malformed id is a 400", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/policy-set/not-a-uuid", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusBadRequest, e.do(t, req).Code)
	})

	t.Run("delete is a 200", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodDelete, "/policy-set/"+uuid.NewString(), nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusOK, e.do(t, req).Code)
	})
}

func TestAdminNamespace(t *testing.T) {
	adminRole := token.HumanRole(issuerEORI, "admin-1", []string{token.AdminRealmRole})

	t.Run("machine caller is a 403", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/admin/policy-set", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusForbidden, e.do(t, req).Code)
	})

	t.Run("human without the admin role is a 403", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/admin/policy-set", nil)
		req.Header.Set("Authorization", e.bearer(t, token.HumanRole(issuerEORI, "user-1", nil)))
		assert.Equal(t, http.StatusForbidden, e.do(t, req).Code)
	})

	t.Run("admin listing passes the filter through", func(t *testing.T) {
		e := newEnv(t)
		e.policySets.listResult = &policyset.ListResult{TotalCount: 3}
		req := httptest.NewRequest(http.MethodGet, "/admin/policy-set?access_subject=NL.44&skip=10&limit=5", nil)
		req.Header.Set("Authorization", e.bearer(t, adminRole))
		rec := e.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, e.policySets.gotFilter.AccessSubject)
		assert.Equal(t, "NL.44", *e.policySets.gotFilter.AccessSubject)
		assert.Nil(t, e.policySets.gotFilter.PolicyIssuer)
		assert.Equal(t, 10, e.policySets.gotFilter.Skip)
		assert.Equal(t, 5, e.policySets.gotFilter.Limit)
		assert.Contains(t, rec.Body.String(), `"totalCount":3`)
	})

	t.Run("admin create skips the guard path", func(t *testing.T) {
		e := newEnv(t)
		body := `{"policyIssuer":"` + issuerEORI + `","accessSubject":"` + subjectEORI + `","policies":[]}`
		req := httptest.NewRequest(http.MethodPost, "/admin/policy-set", strings.NewReader(body))
		req.Header.Set("Authorization", e.bearer(t, adminRole))
		rec := e.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, e.policySets.adminCreated)
	})
}

func TestAuditLog(t *testing.T) {
	t.Run("controller defaults to the requester", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/audit-log?max-results=5", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		rec := e.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, issuerEORI, e.auditLog.gotClient)
		assert.Equal(t, issuerEORI, e.auditLog.gotController)
		assert.Equal(t, 5, e.auditLog.gotQuery.MaxResults)
	})

	t.Run("explicit controller and time bounds pass through", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet,
			"/audit-log?controller="+subjectEORI+"&from=2026-03-14T00:00:00Z&eventTypes=dmi:ar:delegation:request", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		rec := e.do(t, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, subjectEORI, e.auditLog.gotController)
		require.NotNil(t, e.auditLog.gotQuery.From)
		assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), e.auditLog.gotQuery.From.UTC())
		assert.Equal(t, "dmi:ar:delegation:request", e.auditLog.gotQuery.EventTypes)
	})

	t.Run("denied retrieval is a 401", func(t *testing.T) {
		e := newEnv(t)
		e.auditLog.err = oops.Code(audit.CodeAuditAccessDenied).Errorf("no delegation evidence")
		req := httptest.NewRequest(http.MethodGet, "/audit-log", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusUnauthorized, e.do(t, req).Code)
	})

	t.Run("bad timestamp is a 400", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/audit-log?from=yesterday", nil)
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		assert.Equal(t, http.StatusBadRequest, e.do(t, req).Code)
	})
}

func TestPublicSurface(t *testing.T) {
	t.Run("capabilities needs no session", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, httptest.NewRequest(http.MethodGet, "/capabilities", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"capabilities_token":"caps-token"`)
	})

	t.Run("health", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unexpected errors render as an opaque 500", func(t *testing.T) {
		e := newEnv(t)
		e.delegation.err = oops.Errorf("database on fire")
		req := httptest.NewRequest(http.MethodPost, "/delegation", strings.NewReader(`{"delegationRequest":{}}`))
		req.Header.Set("Authorization", e.bearer(t, token.MachineRole(issuerEORI)))
		rec := e.do(t, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Something unexpected went wrong")
		assert.NotContains(t, rec.Body.String(), "database on fire")
	})
}

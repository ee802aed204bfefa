// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/delegation/types"
	"github.com/dexspace/authregistry/internal/token"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleMachineToken is the iSHARE client-credentials flow: a signed client
// assertion from an adherent party buys a machine session token.
func (s *Server) handleMachineToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		badRequest(w, "grant_type must be client_credentials")
		return
	}
	if !strings.Contains(r.PostForm.Get("scope"), "iSHARE") {
		badRequest(w, "scope must include iSHARE")
		return
	}
	if r.PostForm.Get("client_assertion_type") != clientAssertionType {
		badRequest(w, "unsupported client_assertion_type")
		return
	}
	assertion := r.PostForm.Get("client_assertion")
	if assertion == "" {
		badRequest(w, "client_assertion is required")
		return
	}

	eori, err := s.assertions.VerifyClientAssertion(assertion, s.clientEORI)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "client assertion rejected"})
		return
	}
	if clientID := r.PostForm.Get("client_id"); clientID != "" && clientID != eori {
		badRequest(w, "client_id does not match the asserting party")
		return
	}

	adherent, err := s.registry.IsAdherent(r.Context(), eori)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !adherent {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "party is not adherent"})
		return
	}

	session, err := s.sessions.Create(token.MachineRole(eori))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: session,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.sessions.Expiry().Seconds()),
	})
}

// handleHumanAuth starts the human login: redirect to the identity provider,
// carrying the caller's own redirect target as state.
func (s *Server) handleHumanAuth(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("redirect_uri")
	if target == "" {
		badRequest(w, "redirect_uri is required")
		return
	}
	http.Redirect(w, r, s.idp.AuthURL(s.callbackURL(r), target), http.StatusFound)
}

// handleHumanCode completes the human login: exchange the authorization
// code, mint a session and bounce back to the target carried in state.
func (s *Server) handleHumanCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		badRequest(w, "code and state are required")
		return
	}

	identity, err := s.idp.ExchangeCode(r.Context(), code, s.callbackURL(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.sessions.Create(token.HumanRole(identity.CompanyID, identity.UserID, identity.Roles))
	if err != nil {
		writeError(w, r, err)
		return
	}

	separator := "?"
	if strings.Contains(state, "?") {
		separator = "&"
	}
	http.Redirect(w, r, state+separator+"token="+url.QueryEscape(session), http.StatusFound)
}

// callbackURL is this registry's own code endpoint as seen by the caller.
func (s *Server) callbackURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + s.route("/connect/human/code")
}

// handleDelegation answers a delegation mask request. The evidence goes out
// wrapped in a signed delegation token unless the caller asks for
// application/json explicitly.
func (s *Server) handleDelegation(w http.ResponseWriter, r *http.Request) {
	var container types.DelegationRequestContainer
	if err := json.NewDecoder(r.Body).Decode(&container); err != nil {
		badRequest(w, "malformed delegation request")
		return
	}

	party := requester(r)
	evidence, err := s.delegation.Delegate(r.Context(), party, container)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, evidence)
		return
	}
	signed, err := s.delegation.SignToken(party, *evidence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"delegation_token": signed})
}

func (s *Server) handleCreatePolicySet(w http.ResponseWriter, r *http.Request) {
	s.createPolicySet(w, r, s.policySets.Create)
}

func (s *Server) handleAdminCreatePolicySet(w http.ResponseWriter, r *http.Request) {
	s.createPolicySet(w, r, s.policySets.CreateAdmin)
}

func (s *Server) createPolicySet(w http.ResponseWriter, r *http.Request,
	create func(ctx context.Context, requester string, spec types.PolicySetSpec) (uuid.UUID, error)) {
	var spec types.PolicySetSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		badRequest(w, "malformed policy set")
		return
	}
	id, err := create(r.Context(), requester(r), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"policySetId": id.String()})
}

func (s *Server) handleListOwnPolicySets(w http.ResponseWriter, r *http.Request) {
	docs, err := s.policySets.ListOwn(r.Context(), requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policySets": docs})
}

func (s *Server) handleGetPolicySet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	doc, err := s.policySets.Get(r.Context(), requester(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeletePolicySet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.policySets.Delete(r.Context(), requester(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAddPolicy(w http.ResponseWriter, r *http.Request) {
	setID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var p types.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "malformed policy")
		return
	}
	doc, err := s.policySets.AddPolicy(r.Context(), requester(r), setID, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	setID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	policyID, ok := pathUUID(w, r, "policyId")
	if !ok {
		return
	}
	var p types.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "malformed policy")
		return
	}
	doc, err := s.policySets.ReplacePolicy(r.Context(), requester(r), setID, policyID, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	setID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	policyID, ok := pathUUID(w, r, "policyId")
	if !ok {
		return
	}
	if err := s.policySets.RemovePolicy(r.Context(), requester(r), setID, policyID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleAdminListPolicySets is the unguarded paginated listing.
func (s *Server) handleAdminListPolicySets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{}
	if v := q.Get("access_subject"); v != "" {
		f.AccessSubject = &v
	}
	if v := q.Get("policy_issuer"); v != "" {
		f.PolicyIssuer = &v
	}
	var err error
	if f.Skip, err = queryInt(q, "skip", 0); err != nil {
		badRequest(w, "skip must be an integer")
		return
	}
	if f.Limit, err = queryInt(q, "limit", 0); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}

	result, err := s.policySets.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAuditLog serves the caller's journal, or another controller's when
// delegation evidence allows it.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var query audit.Query
	var err error
	if query.From, err = queryTime(q, "from"); err != nil {
		badRequest(w, "from must be an RFC 3339 timestamp")
		return
	}
	if query.To, err = queryTime(q, "to"); err != nil {
		badRequest(w, "to must be an RFC 3339 timestamp")
		return
	}
	if query.MaxResults, err = queryInt(q, "max-results", 100); err != nil {
		badRequest(w, "max-results must be an integer")
		return
	}
	query.EventTypes = q.Get("eventTypes")

	client := requester(r)
	controller := q.Get("controller")
	if controller == "" {
		controller = client
	}

	events, err := s.auditLog.Retrieve(r.Context(), client, controller, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleCapabilities is the public iSHARE capabilities document.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	signed, err := s.signer.CapabilitiesToken()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"capabilities_token": signed})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		badRequest(w, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(q url.Values, name string, fallback int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryTime(q url.Values, name string) (*time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

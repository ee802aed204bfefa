// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// route prefixes a path with the deploy route.
func (s *Server) route(path string) string {
	prefix := strings.TrimRight(s.deployRoute, "/")
	return prefix + path
}

// Handler builds the full routing table. Everything lives under the deploy
// route except /metrics, which stays at the root for scrapers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, logging, metrics, recovery)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Public surface.
	r.HandleFunc(s.route("/health"), s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(s.route("/capabilities"), s.handleCapabilities).Methods(http.MethodGet)
	r.HandleFunc(s.route("/connect/machine/token"), s.handleMachineToken).Methods(http.MethodPost)
	r.HandleFunc(s.route("/connect/human/auth"), s.handleHumanAuth).Methods(http.MethodGet)
	r.HandleFunc(s.route("/connect/human/code"), s.handleHumanCode).Methods(http.MethodGet)

	// Session-gated surface. A bare "/" deploy route gets a matcher-free
	// subrouter so paths don't gain a double slash.
	api := r.NewRoute().Subrouter()
	if prefix := strings.TrimRight(s.deployRoute, "/"); prefix != "" {
		api = r.PathPrefix(prefix).Subrouter()
	}
	api.Use(s.authenticate)
	api.HandleFunc("/delegation", s.handleDelegation).Methods(http.MethodPost)
	api.HandleFunc("/policy-set", s.handleCreatePolicySet).Methods(http.MethodPost)
	api.HandleFunc("/policy-set", s.handleListOwnPolicySets).Methods(http.MethodGet)
	api.HandleFunc("/policy-set/{id}", s.handleGetPolicySet).Methods(http.MethodGet)
	api.HandleFunc("/policy-set/{id}", s.handleDeletePolicySet).Methods(http.MethodDelete)
	api.HandleFunc("/policy-set/{id}/policy", s.handleAddPolicy).Methods(http.MethodPost)
	api.HandleFunc("/policy-set/{id}/policy/{policyId}", s.handleReplacePolicy).Methods(http.MethodPut)
	api.HandleFunc("/policy-set/{id}/policy/{policyId}", s.handleRemovePolicy).Methods(http.MethodDelete)
	api.HandleFunc("/audit-log", s.handleAuditLog).Methods(http.MethodGet)

	// Admin namespace, additionally gated on the admin realm role.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/policy-set", s.handleAdminCreatePolicySet).Methods(http.MethodPost)
	admin.HandleFunc("/policy-set", s.handleAdminListPolicySets).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
	}).Handler(r)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dexspace Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/dexspace/authregistry/internal/audit"
	"github.com/dexspace/authregistry/internal/delegation"
	"github.com/dexspace/authregistry/internal/delegation/store"
	"github.com/dexspace/authregistry/internal/policyset"
	"github.com/dexspace/authregistry/internal/token"
	"github.com/dexspace/authregistry/pkg/errutil"
)

// unexpectedMessage is the only body detail an internal fault leaks.
const unexpectedMessage = "Something unexpected went wrong"

// expectedStatus maps error codes of the service layer to HTTP statuses.
// Store not-found codes are classified by store.IsNotFound; any other code
// not listed here is an unexpected fault.
var expectedStatus = map[string]int{
	"INVALID_DELEGATION_REQUEST": http.StatusBadRequest,
	"INVALID_POLICY":             http.StatusBadRequest,
	policyset.CodeUnknownParty:   http.StatusBadRequest,
	token.CodeInvalidSession:     http.StatusUnauthorized,
	audit.CodeAuditAccessDenied:  http.StatusUnauthorized,
	delegation.CodeAccessDenied:  http.StatusForbidden,
	policyset.CodeForbidden:      http.StatusForbidden,
}

type errorBody struct {
	Error    string         `json:"error"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// writeError renders err per the expected/unexpected taxonomy: expected
// errors carry their message and context to the client, everything else is
// logged in full and rendered as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		status, expected := expectedStatus[errutil.Code(err)]
		if !expected && store.IsNotFound(err) {
			status, expected = http.StatusNotFound, true
		}
		if expected {
			writeJSON(w, status, errorBody{
				Error:    oopsErr.Error(),
				Metadata: oopsErr.Context(),
			})
			return
		}
	}

	errutil.LogError(slog.Default().With("path", r.URL.Path), "request failed", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: unexpectedMessage})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // headers already sent
}

// badRequest renders a body or parameter extraction failure.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message})
}

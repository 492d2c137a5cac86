package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/relay/pkg/state"
)

// Browser-facing bodies. Short on purpose: the browser user gets a
// verdict, never verification internals.
const (
	pageSuccess  = "Congratulations!  You are now authenticated as %s.\n"
	pageCancel   = "Authentication cancelled.\n"
	pageFailure  = "Authentication failed.\n"
	pageReplayed = "This authentication attempt has already completed.\n"
	pageBadToken = "Malformed request.\n"
	pageUnknown  = "Unknown authentication attempt.\n"
)

func writePage(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// writeOutcomePage renders a terminal outcome for a browser.
func writeOutcomePage(w http.ResponseWriter, outcome state.Outcome, subject string) {
	switch outcome {
	case state.OutcomeSuccess:
		writePage(w, http.StatusOK, fmt.Sprintf(pageSuccess, subject))
	case state.OutcomeCancel:
		writePage(w, http.StatusOK, pageCancel)
	default:
		writePage(w, http.StatusOK, pageFailure)
	}
}

// writeErrorPage maps store errors to a browser page without echoing the
// underlying error text.
func writeErrorPage(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrMalformedToken):
		writePage(w, http.StatusBadRequest, pageBadToken)
	case errors.Is(err, state.ErrNotFound):
		writePage(w, http.StatusNotFound, pageUnknown)
	case errors.Is(err, state.ErrAlreadyTerminal):
		writePage(w, http.StatusGone, pageReplayed)
	default:
		writePage(w, http.StatusInternalServerError, "Internal error.\n")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStateError maps store errors onto the JSON API without leaking
// wrapped backend detail.
func writeStateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrMalformedToken):
		writeJSONError(w, http.StatusBadRequest, "malformed token")
	case errors.Is(err, state.ErrNotFound), errors.Is(err, state.ErrFieldAbsent):
		writeJSONError(w, http.StatusNotFound, "unknown token")
	case errors.Is(err, state.ErrConflict):
		writeJSONError(w, http.StatusConflict, "token already registered")
	case errors.Is(err, state.ErrAlreadyTerminal):
		writeJSONError(w, http.StatusConflict, "record already terminal")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

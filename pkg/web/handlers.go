package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/relay/pkg/saml"
	"github.com/platinummonkey/relay/pkg/state"
)

// openidCallback finishes an OpenID 2.0 attempt from the provider's
// browser redirect.
func (s *Server) openidCallback(w http.ResponseWriter, r *http.Request) {
	rawToken := mux.Vars(r)["token"]

	completion, err := s.openid.Complete(r.Context(), rawToken, r.URL.Query())
	if err != nil {
		s.countCallbackError("openid", "openid_callback", err)
		writeErrorPage(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveOutcome("openid", string(completion.Outcome))
	}
	writeOutcomePage(w, completion.Outcome, completion.Subject)
}

// samlACS is the assertion consumer service endpoint. The identity
// provider posts the response here via the user's browser.
func (s *Server) samlACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writePage(w, http.StatusBadRequest, pageBadToken)
		return
	}
	encoded := r.PostFormValue("SAMLResponse")
	if encoded == "" {
		writePage(w, http.StatusBadRequest, "Missing SAMLResponse.\n")
		return
	}

	result, err := s.saml.Consume(r.Context(), encoded)
	if err != nil {
		if errors.Is(err, saml.ErrUnparseable) {
			writePage(w, http.StatusBadRequest, "Unparseable SAMLResponse.\n")
			return
		}
		s.countCallbackError("saml", "saml_acs", err)
		writeErrorPage(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveOutcome("saml", string(result.Outcome))
	}
	writeOutcomePage(w, result.Outcome, result.Subject)
}

// oidcRedirect sends the browser to the provider's authorization
// endpoint for a registered record, persisting the built URL first.
func (s *Server) oidcRedirect(w http.ResponseWriter, r *http.Request) {
	rawToken := mux.Vars(r)["token"]

	redirect, err := s.oidc.BeginRedirect(r.Context(), rawToken)
	if err != nil {
		s.countCallbackError("oidc", "oidc_redirect", err)
		writeErrorPage(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// oidcCallback finishes an OIDC authorization-code attempt.
func (s *Server) oidcCallback(w http.ResponseWriter, r *http.Request) {
	rawToken := mux.Vars(r)["token"]
	code := r.URL.Query().Get("code")
	if code == "" {
		writePage(w, http.StatusBadRequest, "Missing authorization code.\n")
		return
	}

	completion, err := s.oidc.Complete(r.Context(), rawToken, code)
	if err != nil {
		s.countCallbackError("oidc", "oidc_callback", err)
		writeErrorPage(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveOutcome("oidc", string(completion.Outcome))
	}
	writeOutcomePage(w, completion.Outcome, completion.Subject)
}

func (s *Server) countCallbackError(protocol, surface string, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, state.ErrMalformedToken):
		s.metrics.ObserveMalformedToken(surface)
	case errors.Is(err, state.ErrAlreadyTerminal):
		s.metrics.ObserveReplay(protocol)
	}
}

// registerRequest is the JSON body for POST /state/{token}.
type registerRequest struct {
	IdentityURL string `json:"identity_url,omitempty"`
	Realm       string `json:"realm"`
	ReturnTo    string `json:"return_to"`
}

// registerState creates a correlation record with its request fields.
// This is the structured alternative to writing the store directly from
// the mail-server host.
func (s *Server) registerState(w http.ResponseWriter, r *http.Request) {
	token, err := state.ParseToken(mux.Vars(r)["token"])
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveMalformedToken("state_register")
		}
		writeStateError(w, err)
		return
	}

	// An empty body registers a bare record. SAML attempts carry no
	// request fields; only the OpenID flows need return_to and friends.
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err = s.registrar.Register(r.Context(), token, state.RequestFields{
		IdentityURL: req.IdentityURL,
		Realm:       req.Realm,
		ReturnTo:    req.ReturnTo,
	})
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token.String()})
}

// stateResponse is the poll result for GET /state/{token}.
type stateResponse struct {
	Token   string `json:"token"`
	Outcome string `json:"outcome"`
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error,omitempty"`
}

// pollState reports the record's current outcome. Pending records report
// outcome "pending"; terminal successes include the subject.
func (s *Server) pollState(w http.ResponseWriter, r *http.Request) {
	token, err := state.ParseToken(mux.Vars(r)["token"])
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveMalformedToken("state_poll")
		}
		writeStateError(w, err)
		return
	}
	ctx := r.Context()

	// CurrentOutcome reports ErrNotFound for an unknown token and pending
	// for a record with no outcome yet. No request-field check here: SAML
	// records are created at callback time and carry none.
	outcome, err := state.CurrentOutcome(ctx, s.store, token)
	if err != nil {
		writeStateError(w, err)
		return
	}

	resp := stateResponse{Token: token.String(), Outcome: string(outcome)}
	if outcome == state.OutcomeSuccess {
		resp.Subject = s.optionalField(ctx, token, state.FieldSubject)
	}
	if outcome == state.OutcomeCancel || outcome == state.OutcomeFailure {
		resp.Error = s.optionalField(ctx, token, state.FieldError)
	}
	writeJSON(w, http.StatusOK, resp)
}

// optionalField reads an outcome detail field, tolerating its absence.
func (s *Server) optionalField(ctx context.Context, token state.Token, name string) string {
	value, err := s.store.GetField(ctx, token, name)
	if err != nil {
		return ""
	}
	return value
}

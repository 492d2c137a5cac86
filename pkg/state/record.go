package state

// Field names form the integration contract between this store and the
// polling mail server. Renaming any of these breaks deployed pollers.
const (
	// Request fields, written at registration.
	FieldIdentityURL = "identity_url"
	FieldRealm       = "realm"
	FieldReturnTo    = "return_to"

	// Written by the redirect initiator.
	FieldRedirectURL = "redirect_url"

	// Raw inbound protocol message, retained for audit even on failure.
	FieldRawPayload = "raw_payload"

	// Outcome and outcome detail.
	FieldOutcome  = "outcome"
	FieldSubject  = "subject"
	FieldError    = "error"
	FieldEmail    = "email"
	FieldNickname = "nickname"
	FieldFullName = "fullname"
)

// Outcome is the state of an authentication attempt as seen by the poller.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeCancel  Outcome = "cancel"
	OutcomeFailure Outcome = "failure"
)

// IsTerminal reports whether the outcome is a sink state. Terminal outcomes
// never change once written.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeCancel, OutcomeFailure:
		return true
	}
	return false
}

func (o Outcome) String() string { return string(o) }

// RequestFields are the protocol attributes of the initial request. SAML
// attempts register none of them; the token is discovered at callback time.
type RequestFields struct {
	IdentityURL string `json:"identity_url,omitempty"`
	Realm       string `json:"realm,omitempty"`
	ReturnTo    string `json:"return_to,omitempty"`
}

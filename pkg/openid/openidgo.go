package openid

import (
	"context"
	"fmt"
	"net/url"

	openidgo "github.com/yohcop/openid-go"

	"github.com/platinummonkey/relay/pkg/state"
)

const (
	sregNamespace = "http://openid.net/extensions/sreg/1.1"
	sregOptional  = "nickname,fullname,email"
)

// sregKeys maps simple-registration attribute names to record field names.
var sregKeys = map[string]string{
	"email":    state.FieldEmail,
	"nickname": state.FieldNickname,
	"fullname": state.FieldFullName,
}

// LibraryConsumer implements Consumer on top of github.com/yohcop/openid-go.
// The discovery cache and nonce store are per-instance; a single instance
// should serve all requests of a process.
type LibraryConsumer struct {
	discoveryCache openidgo.DiscoveryCache
	nonceStore     openidgo.NonceStore
}

// NewLibraryConsumer returns a Consumer with in-memory discovery and nonce
// caches.
func NewLibraryConsumer() *LibraryConsumer {
	return &LibraryConsumer{
		discoveryCache: openidgo.NewSimpleDiscoveryCache(),
		nonceStore:     openidgo.NewSimpleNonceStore(),
	}
}

// Begin implements Consumer.Begin.
func (c *LibraryConsumer) Begin(_ context.Context, identityURL, realm, returnTo string) (string, error) {
	redirect, err := openidgo.RedirectURL(identityURL, returnTo, realm)
	if err != nil {
		return "", fmt.Errorf("%w: discovery for %q: %w", state.ErrProtocol, identityURL, err)
	}
	withSReg, err := appendSRegRequest(redirect)
	if err != nil {
		return "", fmt.Errorf("%w: %w", state.ErrProtocol, err)
	}
	return withSReg, nil
}

// Complete implements Consumer.Complete. The full callback query is
// reassembled onto the stored return_to target, which is what the library
// verifies the signed response against.
func (c *LibraryConsumer) Complete(_ context.Context, returnTo string, query url.Values) (*Result, error) {
	if query.Get("openid.mode") == "cancel" {
		return &Result{Status: StatusCancel}, nil
	}

	requestURL := returnTo
	if encoded := query.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	claimed, err := openidgo.Verify(requestURL, c.discoveryCache, c.nonceStore)
	if err != nil {
		return &Result{Status: StatusFailure, Message: err.Error()}, nil
	}

	sreg := make(map[string]string)
	for attr := range sregKeys {
		if v := query.Get("openid.sreg." + attr); v != "" {
			sreg[attr] = v
		}
	}
	return &Result{Status: StatusSuccess, ClaimedID: claimed, SReg: sreg}, nil
}

// appendSRegRequest adds the fixed attribute-exchange extension to a built
// redirect URL.
func appendSRegRequest(redirect string) (string, error) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("consumer library returned unparseable redirect: %w", err)
	}
	q := u.Query()
	q.Set("openid.ns.sreg", sregNamespace)
	q.Set("openid.sreg.optional", sregOptional)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

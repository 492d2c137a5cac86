// Package openid adapts OpenID 2.0 authentication onto the correlation
// store.
//
// Two thin adapters live here. The Initiator reads the request fields of a
// registered record, asks the consumer library to run discovery and build
// the provider-bound redirect URL, and stores that URL back on the record.
// The Completer handles the provider's browser callback: it verifies the
// response through the consumer library and writes the terminal outcome and
// any simple-registration attributes (nickname, full name, email).
//
// The protocol itself (discovery, association, signature checking) is the
// consumer library's job, reached through the Consumer interface. The
// default implementation wraps github.com/yohcop/openid-go.
package openid

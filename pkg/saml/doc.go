// Package saml consumes SAML 2.0 assertion responses and records their
// outcome in the correlation store.
//
// The hard part of this path is that the correlation token arrives inside
// the untrusted response itself, before anything has been verified. The
// consumer therefore extracts a candidate token for storage-key purposes
// only, records the raw payload for audit, and then hands the response to
// the verifier (gosaml2/goxmldsig). Only after verification succeeds is the
// token re-derived from the verified document and reconciled with the
// candidate; a mismatch aborts the attempt.
//
// Trust configuration follows a directory layout: one service-provider
// metadata/key/cert set at the root, and one idp-metadata.xml per
// subdirectory for each trusted identity provider. Parsed providers are
// cached behind an LRU and can be hot-reloaded via the fsnotify watcher.
package saml

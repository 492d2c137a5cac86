// Package oidcrp is a modern OpenID Connect relying party writing to the
// same correlation store as the OpenID 2.0 adapters. It exists so
// deployments can move to OIDC identity providers without changing the
// mail server's polling contract: register a token, send the browser to
// AuthCodeURL, poll for the outcome.
package oidcrp

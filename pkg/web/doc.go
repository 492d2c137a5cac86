// Package web is the HTTP surface of the relay: browser-facing callback
// endpoints for the supported authentication protocols plus a small JSON
// API for registering and polling correlation records.
//
// Response bodies for the browser endpoints are deliberately terse.
// Verification detail never leaves the process through them; it goes to
// the record's audit fields and the logs.
package web

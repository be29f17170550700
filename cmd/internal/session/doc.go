// Package session implements the portal session lifecycle.
//
// The controller is the single authoritative state machine over
// uninitialized -> resolving -> authenticated | anonymous. It owns the
// credential transitions: it installs the bearer token on the API
// client, re-resolves whenever the stored credential changes, discards
// resolutions superseded by a newer credential, and starts or stops the
// presence synchronizer as the session enters or leaves the
// authenticated state.
//
// A resolution failure degrades the session to anonymous for gating
// purposes but leaves the stored credential in place: a transient
// network blip must not delete a possibly still valid token.
package session

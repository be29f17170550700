// Package api is the REST client for the Shule backend.
//
// It owns the Authorization default for every outgoing call: the
// session lifecycle controller installs and removes the bearer token at
// credential transitions via SetToken/ClearToken, and no other code
// touches request headers. There is no ambient global; the client
// instance is the dependency.
//
// Surface consumed by the engine:
//   - POST login           -> bearer token
//   - GET current principal -> account.Principal
//   - PATCH current principal -> presence fields only
//   - OfflineBeacon        -> advisory offline write for process teardown
package api

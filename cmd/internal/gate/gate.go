// Package gate decides, for a protected area and a session snapshot,
// whether to render, wait, or redirect.
//
// Decide is pure: no side effects, no state, safe to call on every
// request. It never fails: an unclear state always resolves to the
// loading decision, never an error.
package gate

import (
	"net/url"

	"shule/cmd/internal/account"
	"shule/cmd/internal/session"
)

// Action is the gate's verdict for one request.
type Action int8

const (
	// ActionShowLoading renders a neutral loading indicator. Used while
	// resolution is pending so users never see a sign-in flash for a
	// credential that is about to resolve.
	ActionShowLoading Action = iota
	// ActionRender lets the protected content through.
	ActionRender
	// ActionRedirectSignIn sends the visitor to the sign-in screen,
	// best-effort preserving the requested location.
	ActionRedirectSignIn
	// ActionRedirectArea sends an authenticated principal to its own
	// default area when the requested one is off-limits.
	ActionRedirectArea
)

func (a Action) String() string {
	switch a {
	case ActionShowLoading:
		return "show_loading"
	case ActionRender:
		return "render"
	case ActionRedirectSignIn:
		return "redirect_sign_in"
	case ActionRedirectArea:
		return "redirect_area"
	default:
		return "unknown"
	}
}

// Decision is the gate output. Location is set for redirect actions.
type Decision struct {
	Action   Action
	Location string
}

// SignInPath is where anonymous visitors land.
const SignInPath = "/signin"

// defaultAreas is the fixed role -> portal area table. Roles outside it
// redirect to sign-in.
var defaultAreas = map[account.Role]string{
	account.RoleAdmin:   "/admin",
	account.RoleTeacher: "/teacher",
	account.RoleStudent: "/student",
}

// DefaultArea returns the portal area a role lands on after sign-in.
func DefaultArea(r account.Role) (string, bool) {
	area, ok := defaultAreas[r]
	return area, ok
}

// Decide evaluates one protected view against the session snapshot and
// its role allow-list. requested is the location to return to after a
// successful sign-in (best-effort; may be empty).
func Decide(snap session.Snapshot, allowed []account.Role, requested string) Decision {
	switch snap.State {
	case session.StateUninitialized, session.StateResolving:
		return Decision{Action: ActionShowLoading}

	case session.StateAnonymous:
		return Decision{Action: ActionRedirectSignIn, Location: signInWithReturn(requested)}

	case session.StateAuthenticated:
		if snap.Principal == nil {
			// Authenticated without a principal is unreachable through the
			// controller; resolve it to loading rather than guessing.
			return Decision{Action: ActionShowLoading}
		}
		role := snap.Principal.Role
		for _, r := range allowed {
			if r == role {
				return Decision{Action: ActionRender}
			}
		}
		if area, ok := DefaultArea(role); ok {
			return Decision{Action: ActionRedirectArea, Location: area}
		}
		return Decision{Action: ActionRedirectSignIn, Location: SignInPath}

	default:
		return Decision{Action: ActionShowLoading}
	}
}

func signInWithReturn(requested string) string {
	if requested == "" || requested == SignInPath {
		return SignInPath
	}
	return SignInPath + "?next=" + url.QueryEscape(requested)
}

package auth

import "civicreport/internal/session"

// Destination is the screen group a consumer should show.
type Destination int

const (
	Loading Destination = iota
	SignIn
	Onboarding
	Dashboard
)

func (d Destination) String() string {
	switch d {
	case Loading:
		return "loading"
	case SignIn:
		return "sign-in"
	case Onboarding:
		return "onboarding"
	case Dashboard:
		return "dashboard"
	}
	return "unknown"
}

// Route maps session state to a destination.
func Route(st session.State) Destination {
	switch {
	case !st.Ready:
		return Loading
	case st.Session == nil:
		return SignIn
	case st.Session.User.NeedsOnboarding():
		return Onboarding
	default:
		return Dashboard
	}
}

package transport

// RedirectSink receives the decision to send a session back to the login
// entry point. Decoupling navigation from the transport keeps the chain
// testable with a recorder.
type RedirectSink interface {
	RedirectToLogin(sid, returnTo string)
}

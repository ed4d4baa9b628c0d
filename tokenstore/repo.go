// Package tokenstore defines the persistent key-value contract for session
// state that must survive process restarts: the current session token, the
// login method that minted it, and a logged-out flag that forces a cleanup
// pass on the next load.
//
// The store may be shared by concurrent processes reading the same storage;
// no cross-process locking is provided and the last writer wins.
package tokenstore

// Repo persists the three session keys. Absent values are not errors: an
// unset token or method reads back as the empty string, the flag as false.
type Repo interface {
	Token() (string, error)
	SetToken(token string) error
	DeleteToken() error

	LoginMethod() (string, error)
	SetLoginMethod(method string) error
	DeleteLoginMethod() error

	LoggedOut() (bool, error)
	SetLoggedOut(loggedOut bool) error

	// Clear removes the token and login method and resets the logged-out
	// flag in one pass.
	Clear() error
}

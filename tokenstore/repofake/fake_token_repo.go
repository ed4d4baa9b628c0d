// Package repofake provides an in-memory tokenstore.Repo for tests.
package repofake

import (
	"sync"

	"github.com/jrsteele09/go-auth-session/tokenstore"
)

var _ tokenstore.Repo = (*FakeTokenRepo)(nil)

// FakeTokenRepo keeps session state in memory behind a lock.
type FakeTokenRepo struct {
	lock        sync.RWMutex
	token       string
	loginMethod string
	loggedOut   bool
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{}
}

func (r *FakeTokenRepo) Token() (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.token, nil
}

func (r *FakeTokenRepo) SetToken(token string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.token = token
	return nil
}

func (r *FakeTokenRepo) DeleteToken() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.token = ""
	return nil
}

func (r *FakeTokenRepo) LoginMethod() (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.loginMethod, nil
}

func (r *FakeTokenRepo) SetLoginMethod(method string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loginMethod = method
	return nil
}

func (r *FakeTokenRepo) DeleteLoginMethod() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loginMethod = ""
	return nil
}

func (r *FakeTokenRepo) LoggedOut() (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.loggedOut, nil
}

func (r *FakeTokenRepo) SetLoggedOut(loggedOut bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loggedOut = loggedOut
	return nil
}

func (r *FakeTokenRepo) Clear() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.token = ""
	r.loginMethod = ""
	r.loggedOut = false
	return nil
}

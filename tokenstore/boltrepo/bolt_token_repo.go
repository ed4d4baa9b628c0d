// Package boltrepo persists session state in a bbolt database file.
package boltrepo

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// dirPerm is the permission mode for the state directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for the state database file.
	filePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt database lock.
	openTimeout = 5 * time.Second
)

var (
	sessionBucket  = []byte("session")
	tokenKey       = []byte("token")
	loginMethodKey = []byte("login_method")
	loggedOutKey   = []byte("logged_out")
)

var _ tokenstore.Repo = (*BoltTokenRepo)(nil)

// BoltTokenRepo is a tokenstore.Repo backed by a single bbolt bucket.
type BoltTokenRepo struct {
	db *bolt.DB
}

// Open opens (creating if needed) the session database at the given path.
func Open(path string) (*BoltTokenRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, errors.Wrap(err, "[boltrepo.Open] creating state directory")
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "[boltrepo.Open] opening state db")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[boltrepo.Open] creating session bucket")
	}

	return &BoltTokenRepo{db: db}, nil
}

// Close closes the underlying database.
func (r *BoltTokenRepo) Close() error {
	return r.db.Close()
}

func (r *BoltTokenRepo) get(key []byte) (string, error) {
	var value string
	err := r.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(sessionBucket).Get(key); data != nil {
			value = string(data)
		}
		return nil
	})
	return value, err
}

func (r *BoltTokenRepo) put(key []byte, value string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(key, []byte(value))
	})
}

func (r *BoltTokenRepo) delete(key []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(key)
	})
}

func (r *BoltTokenRepo) Token() (string, error) {
	return r.get(tokenKey)
}

func (r *BoltTokenRepo) SetToken(token string) error {
	return r.put(tokenKey, token)
}

func (r *BoltTokenRepo) DeleteToken() error {
	return r.delete(tokenKey)
}

func (r *BoltTokenRepo) LoginMethod() (string, error) {
	return r.get(loginMethodKey)
}

func (r *BoltTokenRepo) SetLoginMethod(method string) error {
	return r.put(loginMethodKey, method)
}

func (r *BoltTokenRepo) DeleteLoginMethod() error {
	return r.delete(loginMethodKey)
}

func (r *BoltTokenRepo) LoggedOut() (bool, error) {
	value, err := r.get(loggedOutKey)
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (r *BoltTokenRepo) SetLoggedOut(loggedOut bool) error {
	if !loggedOut {
		return r.delete(loggedOutKey)
	}
	return r.put(loggedOutKey, "true")
}

func (r *BoltTokenRepo) Clear() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionBucket)
		for _, key := range [][]byte{tokenKey, loginMethodKey, loggedOutKey} {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Package devicestore is the on-device bbolt file holding the persisted session snapshot
// and the identity provider tokens.
package devicestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionBucket = []byte("session")
	authBucket    = []byte("auth")
	currentKey    = []byte("current")
)

// Tokens are the identity provider credentials kept between runs
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store wraps a bbolt database with one bucket per concern
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path, creating parent directories as needed
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open device store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionBucket, authBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(bucket []byte) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(currentKey); v != nil {
			// bbolt values are only valid for the life of the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", bucket, err)
	}
	return out, out != nil, nil
}

func (s *Store) put(bucket, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(currentKey, value)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", bucket, err)
	}
	return nil
}

func (s *Store) del(bucket []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(currentKey)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", bucket, err)
	}
	return nil
}

// SessionCache is the persisted session snapshot
type SessionCache struct{ s *Store }

// Session returns the session snapshot accessor
func (s *Store) Session() SessionCache { return SessionCache{s} }

// Load returns the raw snapshot; ok is false when none is stored
func (c SessionCache) Load() ([]byte, bool, error) { return c.s.get(sessionBucket) }

// Save replaces the snapshot
func (c SessionCache) Save(data []byte) error { return c.s.put(sessionBucket, data) }

// Delete removes the snapshot
func (c SessionCache) Delete() error { return c.s.del(sessionBucket) }

// TokenStore persists provider tokens as JSON
type TokenStore struct{ s *Store }

// Tokens returns the provider token accessor
func (s *Store) Tokens() TokenStore { return TokenStore{s} }

// Load returns the stored tokens; ok is false when none are stored
func (t TokenStore) Load() (Tokens, bool, error) {
	raw, ok, err := t.s.get(authBucket)
	if err != nil || !ok {
		return Tokens{}, false, err
	}
	var tokens Tokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		// An unreadable entry is treated as absent
		_ = t.s.del(authBucket)
		return Tokens{}, false, nil
	}
	return tokens, true, nil
}

// Save replaces the stored tokens
func (t TokenStore) Save(tokens Tokens) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	return t.s.put(authBucket, raw)
}

// Clear removes the stored tokens
func (t TokenStore) Clear() error { return t.s.del(authBucket) }

package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	credsBucketName = []byte("credentials")
	credsKeyName    = []byte("credentials")
)

// Store persists the credential blob. The blob is opaque at this layer; its
// encoding belongs to the auth package.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("open credentials database: %v", err)
	}

	if err := createBuckets(db); nil != err {
		return nil, fmt.Errorf("create credentials buckets: %v", err)
	}

	return &Store{db: db}, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credsBucketName)
		if nil != err {
			return fmt.Errorf("create credentials bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("create buckets: %v", err)
	}

	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("close credentials database: %v", err)
	}

	return nil
}

// Load returns nil when no credential has been stored yet.
func (s *Store) Load() ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(credsBucketName).Get(credsKeyName); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}

		return nil
	})
	if nil != err {
		return nil, fmt.Errorf("load credentials: %v", err)
	}

	return blob, nil
}

func (s *Store) Save(blob []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(credsBucketName).Put(credsKeyName, blob); nil != err {
			return fmt.Errorf("store credentials: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("save credentials: %v", err)
	}

	return nil
}

func (s *Store) Delete() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(credsBucketName).Delete(credsKeyName); nil != err {
			return fmt.Errorf("delete credentials: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("delete credentials: %v", err)
	}

	return nil
}

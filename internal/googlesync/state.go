package googlesync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var stateBucket = []byte("google_sync_state")

// SyncState is the last import outcome for an owner.
type SyncState struct {
	LastImport time.Time `json:"lastImport"`
	RangeStart time.Time `json:"rangeStart"`
	RangeEnd   time.Time `json:"rangeEnd"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
	LastError  string    `json:"lastError,omitempty"`
}

// StateStore keeps SyncState per owner in a bbolt file.
type StateStore struct {
	db *bolt.DB
}

// OpenStateStore opens (creating if needed) the bbolt file at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open sync state %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sync state: %w", err)
	}
	return &StateStore{db: db}, nil
}

// Close releases the file lock.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// Get returns owner's state; ok is false when nothing was recorded yet.
func (s *StateStore) Get(owner int64) (state SyncState, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(stateBucket).Get(ownerKey(owner))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &state)
	})
	if err != nil {
		return SyncState{}, false, fmt.Errorf("read sync state: %w", err)
	}
	return state, ok, nil
}

// Put records owner's state.
func (s *StateStore) Put(owner int64, state SyncState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(ownerKey(owner), raw)
	})
}

// Delete forgets owner's state.
func (s *StateStore) Delete(owner int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete(ownerKey(owner))
	})
}

func ownerKey(owner int64) []byte {
	return []byte(strconv.FormatInt(owner, 10))
}

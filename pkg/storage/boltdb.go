package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/proxywatch/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPreferences = []byte("preferences")
	bucketSnapshots   = []byte("snapshots")

	keyPreferences = []byte("operator")
)

// DBFile is the database file name inside the state directory
const DBFile = "proxywatch.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFile)

	// A second proxywatch process waits briefly instead of hanging on the lock
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPreferences, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// GetPreferences returns the saved preferences, or zero preferences if
// none were saved yet.
func (s *BoltStore) GetPreferences() (*types.Preferences, error) {
	var prefs types.Preferences
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPreferences).Get(keyPreferences)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &prefs)
	})
	return &prefs, err
}

func (s *BoltStore) SavePreferences(prefs *types.Preferences) error {
	prefs.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPreferences).Put(keyPreferences, data)
	})
}

// Snapshot operations
func (s *BoltStore) SaveSnapshot(snap *types.ProgressSnapshot) error {
	if snap.JobID == "" {
		return fmt.Errorf("snapshot has no job id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.JobID), data)
	})
}

func (s *BoltStore) GetSnapshot(jobID string) (*types.ProgressSnapshot, error) {
	var snap types.ProgressSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(jobID))
		if data == nil {
			return fmt.Errorf("snapshot for job %s: %w", jobID, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) ListSnapshots() ([]*types.ProgressSnapshot, error) {
	var snaps []*types.ProgressSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap types.ProgressSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
			return nil
		})
	})
	return snaps, err
}

func (s *BoltStore) DeleteSnapshot(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b.Get([]byte(jobID)) == nil {
			return fmt.Errorf("snapshot for job %s: %w", jobID, ErrNotFound)
		}
		return b.Delete([]byte(jobID))
	})
}

package storage

import (
	"errors"

	"github.com/cuemby/proxywatch/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for proxywatch's local state. Only operator
// preferences and the last known state of mirror jobs are kept; log lines
// are never persisted.
type Store interface {
	// Preferences
	GetPreferences() (*types.Preferences, error)
	SavePreferences(prefs *types.Preferences) error

	// Mirror job snapshots
	SaveSnapshot(snap *types.ProgressSnapshot) error
	GetSnapshot(jobID string) (*types.ProgressSnapshot, error)
	ListSnapshots() ([]*types.ProgressSnapshot, error)
	DeleteSnapshot(jobID string) error

	Close() error
}

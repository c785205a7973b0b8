package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// StorageKey is the namespaced key the credential set lives under.
const StorageKey = "tradingagents_api_settings"

var ErrStorageUnavailable = errors.New("credentials: storage unavailable")

// Store loads and saves the credential set. A Store without storage behaves
// as if nothing was ever saved.
type Store struct {
	storage Storage
	log     *slog.Logger
}

func NewStore(storage Storage, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{storage: storage, log: log}
}

// Load returns the saved set merged over the default template. It never
// fails: unreadable or missing state yields the template.
func (s *Store) Load() CredentialSet {
	set := Default()
	if s == nil || s.storage == nil {
		return set
	}

	data, err := s.storage.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("credentials: read failed, using defaults", "err", err)
		}
		return set
	}

	// Unmarshal onto the template so fields missing from older records keep
	// their default.
	if err := json.Unmarshal(data, &set); err != nil {
		s.log.Warn("credentials: stored record is corrupt, using defaults", "err", err)
		return Default()
	}
	return set
}

// Save overwrites the stored set.
func (s *Store) Save(set CredentialSet) error {
	if s == nil || s.storage == nil {
		return ErrStorageUnavailable
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.storage.Set(StorageKey, data); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Update applies fn to the current set and saves the result. Concurrent
// writers are not coordinated; the last save wins.
func (s *Store) Update(fn func(CredentialSet) CredentialSet) (CredentialSet, error) {
	next := fn(s.Load())
	if err := s.Save(next); err != nil {
		return CredentialSet{}, err
	}
	return next, nil
}

// Clear removes the stored set. Clearing with no storage is a no-op.
func (s *Store) Clear() error {
	if s == nil || s.storage == nil {
		return nil
	}
	if err := s.storage.Remove(StorageKey); err != nil {
		s.log.Warn("credentials: clear failed", "err", err)
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: MPL-2.0

// Package state tracks provisioning completion through an explicit state
// record instead of a bare sentinel-file check, so re-entrancy is testable.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// PhaseAbsent means provisioning has never started on this host.
	PhaseAbsent Phase = "absent"
	// PhaseInProgress means a run has started but not finished. A rerun is
	// allowed: every phase is idempotent.
	PhaseInProgress Phase = "in-progress"
	// PhaseComplete is terminal. Any invocation that observes it must
	// short-circuit to a no-op.
	PhaseComplete Phase = "complete"
)

// ErrInvalidTransition is the sentinel error wrapped by InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

type (
	// Phase is the provisioning lifecycle phase recorded on disk.
	Phase string

	// Record is the durable provisioning state.
	Record struct {
		Phase       Phase     `json:"phase"`
		StartedAt   time.Time `json:"started_at,omitzero"`
		CompletedAt time.Time `json:"completed_at,omitzero"`
	}

	// Store persists the Record at a fixed marker path.
	Store struct {
		path string
	}

	// InvalidTransitionError is returned when a transition is not allowed.
	InvalidTransitionError struct {
		From, To Phase
	}
)

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NewStore creates a Store backed by the marker file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the marker file path.
func (s *Store) Path() string { return s.path }

// Load reads the current record. A missing file means PhaseAbsent. A file
// that exists but does not parse as a record (including the legacy empty
// marker) means PhaseComplete: presence alone must short-circuit reruns.
func (s *Store) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{Phase: PhaseAbsent}, nil
		}
		return Record{}, fmt.Errorf("read state marker: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Phase == "" {
		return Record{Phase: PhaseComplete}, nil
	}
	return rec, nil
}

// Begin transitions Absent or InProgress to InProgress and persists the
// record. Beginning from Complete is an InvalidTransitionError.
func (s *Store) Begin() (Record, error) {
	rec, err := s.Load()
	if err != nil {
		return Record{}, err
	}

	switch rec.Phase {
	case PhaseAbsent:
		rec = Record{Phase: PhaseInProgress, StartedAt: time.Now().UTC()}
	case PhaseInProgress:
		// Rerun after an interrupted attempt; keep the original start time.
		if rec.StartedAt.IsZero() {
			rec.StartedAt = time.Now().UTC()
		}
	case PhaseComplete:
		return rec, &InvalidTransitionError{From: PhaseComplete, To: PhaseInProgress}
	default:
		return rec, &InvalidTransitionError{From: rec.Phase, To: PhaseInProgress}
	}

	if err := s.write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Complete transitions InProgress to Complete and persists the record.
// Completing an already-complete record is a no-op.
func (s *Store) Complete() (Record, error) {
	rec, err := s.Load()
	if err != nil {
		return Record{}, err
	}

	switch rec.Phase {
	case PhaseComplete:
		return rec, nil
	case PhaseInProgress:
		rec.Phase = PhaseComplete
		rec.CompletedAt = time.Now().UTC()
	default:
		return rec, &InvalidTransitionError{From: rec.Phase, To: PhaseComplete}
	}

	if err := s.write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Reset removes the marker entirely. Used by `run --force` to re-provision.
func (s *Store) Reset() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state marker: %w", err)
	}
	return nil
}

func (s *Store) write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state marker: %w", err)
	}
	return nil
}

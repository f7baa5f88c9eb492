// SPDX-License-Identifier: MPL-2.0

package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "provisioned.json"))
}

func TestLoad_MissingFileIsAbsent(t *testing.T) {
	t.Parallel()
	rec, err := tempStore(t).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseAbsent {
		t.Fatalf("expected absent, got %s", rec.Phase)
	}
}

func TestLoad_LegacyEmptyMarkerIsComplete(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "provisioned")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseComplete {
		t.Fatalf("marker presence must short-circuit: got %s", rec.Phase)
	}
}

func TestLoad_GarbageMarkerIsComplete(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "provisioned")
	if err := os.WriteFile(path, []byte("done\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", rec.Phase)
	}
}

func TestBegin_FromAbsent(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	rec, err := s.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseInProgress {
		t.Fatalf("expected in-progress, got %s", rec.Phase)
	}
	if rec.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be set")
	}

	// The transition must be durable.
	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Phase != PhaseInProgress {
		t.Fatalf("expected persisted in-progress, got %s", loaded.Phase)
	}
}

func TestBegin_RerunKeepsStartTime(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	first, err := s.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Begin()
	if err != nil {
		t.Fatalf("rerun from in-progress must be allowed: %v", err)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("expected original start time %v, got %v", first.StartedAt, second.StartedAt)
	}
}

func TestBegin_FromCompleteFails(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	if _, err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	_, err := s.Begin()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestComplete_FromAbsentFails(t *testing.T) {
	t.Parallel()
	_, err := tempStore(t).Complete()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestComplete_IsTerminalAndIdempotent(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	if _, err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Complete()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseComplete || rec.CompletedAt.IsZero() {
		t.Fatalf("bad record after complete: %+v", rec)
	}

	again, err := s.Complete()
	if err != nil {
		t.Fatalf("completing twice must be a no-op: %v", err)
	}
	if again.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", again.Phase)
	}
}

func TestReset_AllowsReprovisioning(t *testing.T) {
	t.Parallel()
	s := tempStore(t)
	if _, err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Phase != PhaseAbsent {
		t.Fatalf("expected absent after reset, got %s", rec.Phase)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset of a missing marker must be a no-op: %v", err)
	}
}

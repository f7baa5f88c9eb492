// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"strings"
	"testing"

	"firstboot-cli/internal/issue"
)

func TestGetVersionString(t *testing.T) {
	if got := getVersionString(); !strings.Contains(got, "dev") {
		t.Fatalf("default version should be dev, got %q", got)
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()
	cause := errors.New("engine unavailable")
	err := &ExitError{Code: 1, Err: cause}
	if err.Error() != "engine unavailable" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("ExitError must unwrap to its cause")
	}
	if got := (&ExitError{Code: 3}).Error(); got != "exit status 3" {
		t.Fatalf("unexpected bare message: %q", got)
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()
	plain := errors.New("boom")
	if got := formatErrorForDisplay(plain, false); got != "boom" {
		t.Fatalf("plain errors pass through, got %q", got)
	}

	rich := issue.NewContext().
		WithOperation("start database container").
		WithSuggestion("Check the listener port").
		Wrap(plain).
		Err()
	got := formatErrorForDisplay(rich, false)
	if !strings.Contains(got, "Check the listener port") {
		t.Fatalf("rich errors must render suggestions, got %q", got)
	}
}

func TestJoinPorts(t *testing.T) {
	t.Parallel()
	if got := joinPorts([]int{1521, 8888}); got != "1521, 8888" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := joinPorts(nil); got != "" {
		t.Fatalf("unexpected: %q", got)
	}
}

// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test doubles for packages that shell out
// to host CLIs (package manager, firewall, python, container engine).
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

type (
	// Invocation records a single simulated command execution.
	Invocation struct {
		Name string
		Args []string
	}

	// Response configures the outcome of one simulated execution.
	Response struct {
		ExitCode int
		Stdout   string
		Stderr   string
	}

	// ExecRecorder captures commands and replays canned responses using the
	// TestHelperProcess pattern. Responses are consumed in order; once the
	// queue is empty every execution gets the Default response.
	ExecRecorder struct {
		mu          sync.Mutex
		Invocations []Invocation
		Responses   []Response
		Default     Response
	}
)

// CommandFunc returns a replacement for exec.CommandContext that records the
// invocation and spawns the test binary's helper process with the next
// canned response.
func (r *ExecRecorder) CommandFunc() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		r.mu.Lock()
		r.Invocations = append(r.Invocations, Invocation{Name: name, Args: args})
		resp := r.Default
		if len(r.Responses) > 0 {
			resp = r.Responses[0]
			r.Responses = r.Responses[1:]
		}
		r.mu.Unlock()

		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", resp.ExitCode),
			fmt.Sprintf("GO_HELPER_STDOUT=%s", resp.Stdout),
			fmt.Sprintf("GO_HELPER_STDERR=%s", resp.Stderr),
		}
		return cmd
	}
}

// Calls returns the recorded invocations as "name arg arg ..." strings for
// simple assertions.
func (r *ExecRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := make([]string, len(r.Invocations))
	for i, inv := range r.Invocations {
		calls[i] = strings.Join(append([]string{inv.Name}, inv.Args...), " ")
	}
	return calls
}

// CallCount returns the number of recorded invocations.
func (r *ExecRecorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Invocations)
}

// RunHelperProcess implements the child side of the TestHelperProcess
// pattern. Each consuming test package declares:
//
//	func TestHelperProcess(t *testing.T) { testutil.RunHelperProcess() }
func RunHelperProcess() {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	if stdout := os.Getenv("GO_HELPER_STDOUT"); stdout != "" {
		fmt.Fprint(os.Stdout, stdout)
	}
	if stderr := os.Getenv("GO_HELPER_STDERR"); stderr != "" {
		fmt.Fprint(os.Stderr, stderr)
	}
	exitCode := 0
	if code := os.Getenv("GO_HELPER_EXIT_CODE"); code != "" {
		fmt.Sscanf(code, "%d", &exitCode)
	}
	os.Exit(exitCode)
}

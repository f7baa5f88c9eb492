// SPDX-License-Identifier: MPL-2.0

package database

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/container"
	"firstboot-cli/internal/issue"
	"firstboot-cli/internal/retry"
)

type execCall struct {
	command []string
	stdin   string
	user    string
}

// fakeEngine replays scripted container responses. Queued values are
// consumed in order; an exhausted queue repeats its final element.
type fakeEngine struct {
	mu sync.Mutex

	pullErrs  []error
	pullCalls int

	removed []container.ContainerName
	runOpts []container.RunOptions
	runErr  error

	states []container.State
	logs   []string

	execResults []*container.ExecResult
	execCalls   []execCall
}

func (f *fakeEngine) Pull(_ context.Context, _ container.ImageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	if len(f.pullErrs) == 0 {
		return nil
	}
	err := f.pullErrs[0]
	if len(f.pullErrs) > 1 {
		f.pullErrs = f.pullErrs[1:]
	} else {
		f.pullErrs = nil
	}
	return err
}

func (f *fakeEngine) RunDetached(_ context.Context, opts container.RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runOpts = append(f.runOpts, opts)
	if f.runErr != nil {
		return "", f.runErr
	}
	return "deadbeefdeadbeefdeadbeef", nil
}

func (f *fakeEngine) Exec(_ context.Context, _ container.ContainerName, command []string, opts container.ExecOptions) (*container.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, execCall{command: command, stdin: opts.Stdin, user: opts.User})
	if len(f.execResults) == 0 {
		return &container.ExecResult{}, nil
	}
	res := f.execResults[0]
	if len(f.execResults) > 1 {
		f.execResults = f.execResults[1:]
	}
	return res, nil
}

func (f *fakeEngine) Remove(_ context.Context, name container.ContainerName, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeEngine) Logs(_ context.Context, _ container.ContainerName, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.logs) == 0 {
		return "", nil
	}
	out := f.logs[0]
	if len(f.logs) > 1 {
		f.logs = f.logs[1:]
	}
	return out, nil
}

func (f *fakeEngine) State(_ context.Context, _ container.ContainerName) (container.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return container.State{Exists: true, Running: true, Status: "running"}, nil
	}
	st := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return st, nil
}

func testSettings() Settings {
	return Settings{
		Image:         "container-registry.oracle.com/database/free:latest",
		ContainerName: "oradb",
		PDBName:       "FREEPDB1",
		AppUser:       "demouser",
		Tablespace:    "demo_tbs",
		Password:      "secret",
		DataDir:       "/opt/oradata",
		MemoryLimitGB: 8,
		ListenerPort:  1521,
		ReadyTimeout:  200 * time.Millisecond,
		ListenerWait:  50 * time.Millisecond,
	}
}

func newTestManager(engine ContainerEngine, opts ...Option) *Manager {
	base := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithPullPolicy(3, time.Millisecond),
	}
	return NewManager(engine, testSettings(), log.New(io.Discard), append(base, opts...)...)
}

func TestPrepareDataDir_ChownsToDatabaseIDs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir() + "/oradata"
	var gotPath string
	var gotUID, gotGID int
	m := NewManager(&fakeEngine{}, Settings{DataDir: dir}, log.New(io.Discard),
		WithChown(func(path string, uid, gid int) error {
			gotPath, gotUID, gotGID = path, uid, gid
			return nil
		}))

	if err := m.PrepareDataDir(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != dir || gotUID != 54321 || gotGID != 54321 {
		t.Fatalf("chown %s %d:%d, want %s 54321:54321", gotPath, gotUID, gotGID, dir)
	}
}

func TestStart_RemovesStaleAndLaunches(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{}
	m := newTestManager(engine)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.removed) != 1 || engine.removed[0] != "oradb" {
		t.Fatalf("stale container must be removed first, got %v", engine.removed)
	}
	if len(engine.runOpts) != 1 {
		t.Fatalf("expected one launch, got %d", len(engine.runOpts))
	}
	opts := engine.runOpts[0]
	if opts.Env["ORACLE_PWD"] != "secret" || opts.Env["ORACLE_PDB"] != "FREEPDB1" {
		t.Fatalf("unexpected env: %v", opts.Env)
	}
	if len(opts.Volumes) != 1 || opts.Volumes[0].HostPath != "/opt/oradata" {
		t.Fatalf("unexpected volumes: %v", opts.Volumes)
	}
	if len(opts.Ports) != 1 || opts.Ports[0] != "1521:1521" {
		t.Fatalf("unexpected ports: %v", opts.Ports)
	}
}

func TestStart_RetriesTransientPull(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		pullErrs: []error{errors.New("TLS handshake timeout"), nil},
	}
	m := newTestManager(engine)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.pullCalls != 2 {
		t.Fatalf("expected 2 pull attempts, got %d", engine.pullCalls)
	}
}

func TestStart_PermanentPullFailsFast(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		pullErrs: []error{errors.New("manifest unknown: image not found")},
	}
	m := newTestManager(engine)

	err := m.Start(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if engine.pullCalls != 1 {
		t.Fatalf("non-transient pull must not be retried, got %d attempts", engine.pullCalls)
	}
}

func TestWaitReady_MarkerAppears(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		logs: []string{
			"Starting Oracle Net Listener.\n",
			"Starting Oracle Net Listener.\n" + ReadyMarker + "\n",
		},
	}
	m := newTestManager(engine)

	if err := m.WaitReady(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitReady_ContainerDiedIsTerminal(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		states: []container.State{
			{Exists: true, Running: false, Status: "exited", ExitCode: 1},
		},
		logs: []string{"ORA-00600: internal error code\n"},
	}
	m := newTestManager(engine)

	start := time.Now()
	err := m.WaitReady(context.Background())
	if !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("expected ErrExitedBeforeReady, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("death must abort the wait immediately, took %v", elapsed)
	}
	var pe *issue.ProvisionError
	if !errors.As(err, &pe) || !strings.Contains(pe.Detail, "ORA-00600") {
		t.Fatalf("failure must carry the log tail, got: %v", err)
	}
}

func TestWaitReady_TimesOut(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{logs: []string{"still initializing\n"}}
	m := newTestManager(engine)

	err := m.WaitReady(context.Background())
	if !errors.Is(err, retry.ErrTimeout) {
		t.Fatalf("expected timeout, got: %v", err)
	}
}

func TestBootstrap_RunsStepsInOrder(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		execResults: []*container.ExecResult{
			{Output: "Pluggable database altered.\n"},
			{Output: "Pluggable database altered.\n"},
			{Output: "System altered.\n"},
			{Output: `Service "FREEPDB1" has 1 instance(s).` + "\n"}, // lsnrctl
			{Output: "Tablespace created.\n"},
			{Output: "User created.\n"},
			{Output: "Grant succeeded.\n"},
		},
	}
	m := newTestManager(engine)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stdins []string
	for _, call := range engine.execCalls {
		if call.command[0] == "sqlplus" {
			stdins = append(stdins, call.stdin)
		}
	}
	if len(stdins) != 6 {
		t.Fatalf("expected 6 SQL steps, got %d", len(stdins))
	}
	for i, want := range []string{
		"ALTER PLUGGABLE DATABASE FREEPDB1 OPEN",
		"SAVE STATE",
		"ALTER SYSTEM REGISTER",
		"CREATE TABLESPACE demo_tbs",
		"CREATE USER demouser",
		"GRANT",
	} {
		if !strings.Contains(stdins[i], want) {
			t.Fatalf("step %d: expected %q in:\n%s", i, want, stdins[i])
		}
	}
}

func TestBootstrap_RerunToleratesExistingObjects(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		execResults: []*container.ExecResult{
			{Output: "ORA-65019: pluggable database FREEPDB1 already open\n"},
			{Output: "ORA-65040: operation not allowed from within a pluggable database\n"},
			{Output: "System altered.\n"},
			{Output: `Service "FREEPDB1" has 1 instance(s).` + "\n"},
			{Output: "ORA-01543: tablespace 'DEMO_TBS' already exists\n"},
			{Output: "ORA-01920: user name 'DEMOUSER' conflicts with another user\n"},
			{Output: "Grant succeeded.\n"},
		},
	}
	m := newTestManager(engine)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("rerun must tolerate existing objects: %v", err)
	}
}

func TestBootstrap_UnexpectedCodeFails(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{
		execResults: []*container.ExecResult{
			{Output: "ORA-01034: ORACLE not available\n"},
		},
	}
	m := newTestManager(engine)

	err := m.Bootstrap(context.Background())
	if !errors.Is(err, ErrBootstrapStep) {
		t.Fatalf("expected ErrBootstrapStep, got: %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || len(se.Codes) != 1 || se.Codes[0] != "ORA-01034" {
		t.Fatalf("expected the offending code, got: %v", err)
	}
}

func TestBootstrap_ListenerTimeoutIsNotFatal(t *testing.T) {
	t.Parallel()
	// lsnrctl never advertises the service; Bootstrap must warn and continue.
	engine := &fakeEngine{
		execResults: []*container.ExecResult{
			{Output: "Pluggable database altered.\n"},
			{Output: "Pluggable database altered.\n"},
			{Output: "System altered.\n"},
			{Output: "The listener supports no services\n"},
		},
	}
	m := newTestManager(engine)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("listener wait timeout must not fail bootstrap: %v", err)
	}
}

func TestUnexpectedCodes(t *testing.T) {
	t.Parallel()
	out := "ORA-01543: exists\nORA-01543: again\nORA-00911: invalid character\n"
	got := unexpectedCodes(out, []string{"ORA-01543"})
	if len(got) != 1 || got[0] != "ORA-00911" {
		t.Fatalf("unexpected codes: %v", got)
	}
}

// SPDX-License-Identifier: MPL-2.0

package sysunits

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/coreos/go-systemd/v22/dbus"
)

// fakeConn records systemd calls and reports every start job as done.
type fakeConn struct {
	mu      sync.Mutex
	reloads int
	enabled []string
	started []string
	closed  bool
}

func (f *fakeConn) ReloadContext(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeConn) EnableUnitFilesContext(_ context.Context, files []string, _, _ bool) (bool, []dbus.EnableUnitFileChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, files...)
	return true, nil, nil
}

func (f *fakeConn) StartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	ch <- "done"
	return 1, nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func testUnit() Unit {
	return Unit{
		Name:             "jupyter.service",
		Description:      "JupyterLab notebook server",
		After:            []string{"network-online.target", "oradb.service"},
		Requires:         []string{"oradb.service"},
		User:             "opc",
		WorkingDirectory: "/opt/demo/assets",
		Environment:      map[string]string{"DEMO_HOME": "/opt/demo"},
		ExecStart:        []string{"/opt/demo/venv/bin/jupyter", "lab", "--no-browser", "--ip=0.0.0.0"},
		Restart:          "on-failure",
		RestartSec:       10,
	}
}

func TestUnitRender(t *testing.T) {
	t.Parallel()
	content, err := testUnit().Render()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Description=JupyterLab notebook server",
		"After=network-online.target",
		"After=oradb.service",
		"Requires=oradb.service",
		"User=opc",
		"WorkingDirectory=/opt/demo/assets",
		"Environment=DEMO_HOME=/opt/demo",
		"ExecStart=/opt/demo/venv/bin/jupyter lab --no-browser --ip=0.0.0.0",
		"Restart=on-failure",
		"RestartSec=10",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("rendered unit missing %q:\n%s", want, content)
		}
	}
}

func TestUnitRender_QuotesArgvWords(t *testing.T) {
	t.Parallel()
	u := testUnit()
	u.ExecStart = []string{"/opt/demo dir/bin/app", "--label", "hello world"}
	content, err := u.Render()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(content, "ExecStart='/opt/demo dir/bin/app' --label 'hello world'") {
		t.Fatalf("argv words with spaces must be quoted:\n%s", content)
	}
}

func TestUnitRender_Validation(t *testing.T) {
	t.Parallel()
	if _, err := (Unit{Name: "jupyter", ExecStart: []string{"x"}}).Render(); err == nil {
		t.Fatal("expected error for name without .service suffix")
	}
	if _, err := (Unit{Name: "jupyter.service"}).Render(); err == nil {
		t.Fatal("expected error for empty ExecStart")
	}
}

func TestInstall_WritesReloadsEnablesStarts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	conn := &fakeConn{}
	m := NewManager(dir, log.New(io.Discard), WithConnFactory(func(context.Context) (Conn, error) {
		return conn, nil
	}))

	if err := m.Install(context.Background(), []Unit{testUnit()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "jupyter.service")); err != nil {
		t.Fatalf("unit file not written: %v", err)
	}
	if conn.reloads != 1 {
		t.Fatalf("expected one daemon-reload, got %d", conn.reloads)
	}
	if len(conn.enabled) != 1 || conn.enabled[0] != "jupyter.service" {
		t.Fatalf("unexpected enables: %v", conn.enabled)
	}
	if len(conn.started) != 1 || conn.started[0] != "jupyter.service" {
		t.Fatalf("unexpected starts: %v", conn.started)
	}
	if !conn.closed {
		t.Fatal("connection must be closed")
	}
}

func TestInstall_UnchangedUnitSkipsReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := &fakeConn{}
	second := &fakeConn{}
	conns := []*fakeConn{first, second}
	m := NewManager(dir, log.New(io.Discard), WithConnFactory(func(context.Context) (Conn, error) {
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}))

	if err := m.Install(context.Background(), []Unit{testUnit()}); err != nil {
		t.Fatalf("first install: %v", err)
	}
	if err := m.Install(context.Background(), []Unit{testUnit()}); err != nil {
		t.Fatalf("second install: %v", err)
	}
	if second.reloads != 0 {
		t.Fatalf("identical content must not reload, got %d reloads", second.reloads)
	}
	// Enable and start still run; systemd treats them as no-ops.
	if len(second.started) != 1 {
		t.Fatalf("service must still be started on rerun, got %v", second.started)
	}
}

func TestInstall_ChangedUnitTriggersReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	conn := &fakeConn{}
	m := NewManager(dir, log.New(io.Discard), WithConnFactory(func(context.Context) (Conn, error) {
		return conn, nil
	}))

	if err := m.Install(context.Background(), []Unit{testUnit()}); err != nil {
		t.Fatalf("first install: %v", err)
	}
	u := testUnit()
	u.RestartSec = 30
	if err := m.Install(context.Background(), []Unit{u}); err != nil {
		t.Fatalf("second install: %v", err)
	}
	if conn.reloads != 2 {
		t.Fatalf("changed content must reload, got %d reloads", conn.reloads)
	}
}

// SPDX-License-Identifier: MPL-2.0

package firewall

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/testutil"
)

func TestHelperProcess(t *testing.T) { testutil.RunHelperProcess() }

func newTestFirewalld(rec *testutil.ExecRecorder) *Firewalld {
	return New(log.New(io.Discard), WithExecCommand(rec.CommandFunc()))
}

func TestAddPort_Args(t *testing.T) {
	t.Parallel()
	rec := &testutil.ExecRecorder{}
	f := newTestFirewalld(rec)

	if err := f.AddPort(context.Background(), 1521); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0] != "firewall-cmd --permanent --add-port=1521/tcp" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestAddPort_AlreadyEnabledIsSuccess(t *testing.T) {
	t.Parallel()
	for _, resp := range []testutil.Response{
		{Stdout: "Warning: ALREADY_ENABLED: 1521:tcp\nsuccess\n"},
		{ExitCode: 1, Stderr: "Error: ALREADY_ENABLED: 1521:tcp"},
	} {
		rec := &testutil.ExecRecorder{Default: resp}
		f := newTestFirewalld(rec)
		if err := f.AddPort(context.Background(), 1521); err != nil {
			t.Fatalf("already-enabled must be success, got: %v", err)
		}
	}
}

func TestAddPort_RealFailurePropagates(t *testing.T) {
	t.Parallel()
	rec := &testutil.ExecRecorder{Default: testutil.Response{ExitCode: 252, Stderr: "FirewallD is not running"}}
	f := newTestFirewalld(rec)

	err := f.AddPort(context.Background(), 8888)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "8888") {
		t.Fatalf("error should name the port: %v", err)
	}
}

func TestOpenPorts_SingleReloadAtEnd(t *testing.T) {
	t.Parallel()
	rec := &testutil.ExecRecorder{}
	f := newTestFirewalld(rec)

	if err := f.OpenPorts(context.Background(), []int{1521, 8888}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 2 adds + 1 reload, got %v", calls)
	}
	if calls[2] != "firewall-cmd --reload" {
		t.Fatalf("expected final reload, got %q", calls[2])
	}
}

func TestOpenPorts_DuplicatesDoNotFailReload(t *testing.T) {
	t.Parallel()
	rec := &testutil.ExecRecorder{
		Responses: []testutil.Response{
			{Stdout: "Warning: ALREADY_ENABLED: 1521:tcp\nsuccess\n"},
			{Stdout: "success\n"},
			{Stdout: "success\n"}, // reload
		},
	}
	f := newTestFirewalld(rec)

	if err := f.OpenPorts(context.Background(), []int{1521, 8888}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

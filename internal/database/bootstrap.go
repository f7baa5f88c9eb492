// SPDX-License-Identifier: MPL-2.0

package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"firstboot-cli/internal/container"
	"firstboot-cli/internal/issue"
	"firstboot-cli/internal/retry"
)

// containerExecOptions runs bootstrap commands as the in-container database
// owner, which is what OS authentication ("/ as sysdba") requires.
func containerExecOptions(stdin string) container.ExecOptions {
	return container.ExecOptions{Stdin: stdin, User: "oracle"}
}

// ErrBootstrapStep is the sentinel error wrapped by StepError.
var ErrBootstrapStep = errors.New("database bootstrap step failed")

// oraCodePattern extracts engine error codes from sqlplus output. The CLI
// exits zero even when a statement fails, so failure detection is by code.
var oraCodePattern = regexp.MustCompile(`ORA-\d{5}`)

type (
	// step is one ordered SQL bootstrap action. Tolerated codes mean the
	// step's effect already exists from a previous run and count as success.
	step struct {
		name      string
		sql       string
		tolerated []string
	}

	// StepError reports a bootstrap statement that failed with a code not in
	// the step's tolerated set.
	StepError struct {
		Step  string
		Codes []string
	}
)

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("database bootstrap step %q failed: %s", e.Step, strings.Join(e.Codes, ", "))
}

// Unwrap returns the sentinel error for errors.Is matching.
func (e *StepError) Unwrap() error { return ErrBootstrapStep }

// Bootstrap brings the running engine to an application-usable state:
// open the pluggable database and persist that state, re-register services
// with the listener, then create the application tablespace and user. Every
// statement is idempotent via its tolerated code set, so a rerun against an
// already-bootstrapped database is a sequence of tolerated no-ops.
//
// The listener wait sits between registration and the storage steps; its
// timeout is a warning, not a failure, because the listener usually settles
// on its own shortly after.
func (m *Manager) Bootstrap(ctx context.Context) error {
	for _, st := range m.openSteps() {
		if err := m.runStep(ctx, st); err != nil {
			return err
		}
	}

	if err := m.waitListener(ctx); err != nil {
		m.logger.Warn("listener not confirmed, continuing", "err", err)
	}

	for _, st := range m.storageSteps() {
		if err := m.runStep(ctx, st); err != nil {
			return err
		}
	}
	m.logger.Info("database bootstrap complete",
		"pdb", m.settings.PDBName, "user", m.settings.AppUser)
	return nil
}

// openSteps opens the pluggable database and reconnects it to the listener.
func (m *Manager) openSteps() []step {
	pdb := m.settings.PDBName
	return []step{
		{
			name: "open pluggable database",
			sql:  fmt.Sprintf("ALTER PLUGGABLE DATABASE %s OPEN;", pdb),
			// ORA-65019: already open.
			tolerated: []string{"ORA-65019"},
		},
		{
			name: "save pluggable database state",
			sql:  fmt.Sprintf("ALTER PLUGGABLE DATABASE %s SAVE STATE;", pdb),
			// ORA-65040: already in the requested state.
			tolerated: []string{"ORA-65040"},
		},
		{
			name: "register with listener",
			sql:  "ALTER SYSTEM REGISTER;",
		},
	}
}

// storageSteps creates the application tablespace, user, and grants inside
// the pluggable database.
func (m *Manager) storageSteps() []step {
	pdb := m.settings.PDBName
	inPDB := fmt.Sprintf("ALTER SESSION SET CONTAINER = %s;\n", pdb)
	return []step{
		{
			name: "create application tablespace",
			sql: inPDB + fmt.Sprintf(
				"CREATE TABLESPACE %s DATAFILE '%s.dbf' SIZE 512M AUTOEXTEND ON NEXT 128M;",
				m.settings.Tablespace, m.settings.Tablespace),
			// ORA-01543: tablespace already exists.
			tolerated: []string{"ORA-01543"},
		},
		{
			name: "create application user",
			sql: inPDB + fmt.Sprintf(
				"CREATE USER %s IDENTIFIED BY \"%s\" DEFAULT TABLESPACE %s QUOTA UNLIMITED ON %s;",
				m.settings.AppUser, m.settings.Password, m.settings.Tablespace, m.settings.Tablespace),
			// ORA-01920: user already exists.
			tolerated: []string{"ORA-01920"},
		},
		{
			name: "grant application privileges",
			sql: inPDB + fmt.Sprintf(
				"GRANT DB_DEVELOPER_ROLE, CREATE SESSION, CREATE TABLE, CREATE VIEW TO %s;",
				m.settings.AppUser),
		},
	}
}

// runStep feeds one statement batch to sqlplus inside the container and
// judges the outcome by the engine error codes in the output. Codes in the
// step's tolerated set mean the work was done on a previous run.
func (m *Manager) runStep(ctx context.Context, st step) error {
	m.logger.Info("running bootstrap step", "step", st.name)
	res, err := m.engine.Exec(ctx, m.settings.ContainerName,
		[]string{"sqlplus", "-s", "/", "as", "sysdba"},
		containerExecOptions(st.sql+"\nEXIT;\n"))
	if err != nil {
		return fmt.Errorf("bootstrap step %q: %w", st.name, err)
	}

	unexpected := unexpectedCodes(res.Output, st.tolerated)
	if len(unexpected) == 0 {
		if oraCodePattern.MatchString(res.Output) {
			m.logger.Debug("step already applied", "step", st.name)
		}
		return nil
	}
	return issue.NewContext().
		WithOperation("bootstrap database").
		WithResource(m.settings.PDBName).
		WithSuggestion("Inspect the statement output below; the database itself is running").
		WithSuggestion("Re-run provisioning once the cause is fixed").
		WithDetail(strings.TrimSpace(res.Output)).
		Wrap(&StepError{Step: st.name, Codes: unexpected}).
		Err()
}

// waitListener polls lsnrctl inside the container until it advertises the
// pluggable database service.
func (m *Manager) waitListener(ctx context.Context) error {
	m.logger.Info("waiting for listener registration", "timeout", m.settings.ListenerWait)
	want := strings.ToLower(m.settings.PDBName)
	interval := m.pollInterval / 2
	if interval <= 0 {
		interval = time.Second
	}
	return retry.Poll(ctx, interval, m.settings.ListenerWait, func(ctx context.Context) (bool, error) {
		res, err := m.engine.Exec(ctx, m.settings.ContainerName,
			[]string{"lsnrctl", "status"}, containerExecOptions(""))
		if err != nil || res.ExitCode != 0 {
			return false, nil
		}
		return strings.Contains(strings.ToLower(res.Output), fmt.Sprintf("service %q", want)), nil
	})
}

// unexpectedCodes returns the engine error codes in output that are not in
// the tolerated set, deduplicated in first-seen order.
func unexpectedCodes(output string, tolerated []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, code := range oraCodePattern.FindAllString(output, -1) {
		if seen[code] {
			continue
		}
		seen[code] = true
		ok := false
		for _, t := range tolerated {
			if code == t {
				ok = true
				break
			}
		}
		if !ok {
			out = append(out, code)
		}
	}
	return out
}

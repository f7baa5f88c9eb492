// SPDX-License-Identifier: MPL-2.0

// Package sysunits renders systemd service definitions for the provisioned
// applications and registers them over the systemd D-Bus API.
package sysunits

import (
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Unit describes one service to render and register. ExecStart is an argv
// vector; rendering quotes each word so paths with spaces survive systemd's
// own word splitting.
type Unit struct {
	Name             string
	Description      string
	After            []string
	Requires         []string
	User             string
	WorkingDirectory string
	Environment      map[string]string
	ExecStart        []string
	Restart          string
	RestartSec       int
}

// Validate checks the fields rendering depends on.
func (u Unit) Validate() error {
	if u.Name == "" || !strings.HasSuffix(u.Name, ".service") {
		return fmt.Errorf("unit name %q must end in .service", u.Name)
	}
	if len(u.ExecStart) == 0 {
		return fmt.Errorf("unit %s has no ExecStart", u.Name)
	}
	return nil
}

// Render produces the unit file content.
func (u Unit) Render() (string, error) {
	if err := u.Validate(); err != nil {
		return "", err
	}
	execStart, err := quoteArgv(u.ExecStart)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", u.Name, err)
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", u.Description)
	for _, dep := range u.After {
		fmt.Fprintf(&b, "After=%s\n", dep)
	}
	for _, dep := range u.Requires {
		fmt.Fprintf(&b, "Requires=%s\n", dep)
	}

	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	if u.User != "" {
		fmt.Fprintf(&b, "User=%s\n", u.User)
	}
	if u.WorkingDirectory != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", u.WorkingDirectory)
	}
	for _, key := range sortedKeys(u.Environment) {
		val, err := syntax.Quote(u.Environment[key], syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("render %s: environment %s: %w", u.Name, key, err)
		}
		fmt.Fprintf(&b, "Environment=%s=%s\n", key, val)
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", execStart)
	if u.Restart != "" {
		fmt.Fprintf(&b, "Restart=%s\n", u.Restart)
	}
	if u.RestartSec > 0 {
		fmt.Fprintf(&b, "RestartSec=%d\n", u.RestartSec)
	}

	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String(), nil
}

// quoteArgv shell-quotes each word of an argv vector.
func quoteArgv(argv []string) (string, error) {
	quoted := make([]string, len(argv))
	for i, word := range argv {
		q, err := syntax.Quote(word, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("word %q: %w", word, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

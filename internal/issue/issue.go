// SPDX-License-Identifier: MPL-2.0

// Package issue builds operator-facing errors for provisioning failures.
// The only recourse on a failed boot is reading the log, so errors carry the
// failed operation, the resource involved, and concrete next steps.
package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ProvisionError is an error enriched with context for the boot log.
	ProvisionError struct {
		// Operation describes what was being attempted ("start database
		// container", "install package").
		Operation string

		// Resource identifies the file, container, package, or unit involved.
		Resource string

		// Suggestions are concrete remediation hints, printed one per line.
		Suggestions []string

		// Detail is trailing diagnostic output (e.g. the last container log
		// lines), printed verbatim after the suggestions.
		Detail string

		// Cause is the underlying error.
		Cause error
	}

	// Context is a fluent builder for ProvisionError.
	Context struct {
		operation   string
		resource    string
		suggestions []string
		detail      string
		cause       error
	}
)

// NewContext creates a new error builder.
func NewContext() *Context { return &Context{} }

// WithOperation sets the operation being performed (a verb phrase).
func (c *Context) WithOperation(op string) *Context {
	c.operation = op
	return c
}

// WithResource sets the resource involved.
func (c *Context) WithResource(res string) *Context {
	c.resource = res
	return c
}

// WithSuggestion adds a remediation hint. May be called multiple times.
func (c *Context) WithSuggestion(s string) *Context {
	c.suggestions = append(c.suggestions, s)
	return c
}

// WithDetail attaches verbatim diagnostic output (log tail, command output).
func (c *Context) WithDetail(d string) *Context {
	c.detail = d
	return c
}

// Wrap records the underlying cause.
func (c *Context) Wrap(err error) *Context {
	c.cause = err
	return c
}

// Err builds the ProvisionError. Returns nil if no operation was set.
func (c *Context) Err() error {
	if c.operation == "" {
		return nil
	}
	return &ProvisionError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Detail:      c.detail,
		Cause:       c.cause,
	}
}

// Error implements the error interface with the concise single-line form.
func (e *ProvisionError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *ProvisionError) Unwrap() error { return e.Cause }

// Format returns the multi-line form written to the provisioning log:
// the message, suggestions as bullet points, then the diagnostic detail.
// When verbose is set the full error chain is appended.
func (e *ProvisionError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	for _, s := range e.Suggestions {
		msg.WriteString("\n  • ")
		msg.WriteString(s)
	}

	if e.Detail != "" {
		msg.WriteString("\n\n")
		msg.WriteString(strings.TrimRight(e.Detail, "\n"))
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}

	return msg.String()
}

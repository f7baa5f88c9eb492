// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context cancelled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped cancel", fmt.Errorf("pull: %w", context.Canceled), false},
		{"dns failure", errors.New("Could not resolve host: registry.example.com"), true},
		{"no such host", errors.New("dial tcp: lookup registry: no such host"), true},
		{"timeout", errors.New("connection timed out"), true},
		{"refused", errors.New("connection refused"), true},
		{"tls timeout", errors.New("net/http: TLS handshake timeout"), true},
		{"registry 503", errors.New("received unexpected HTTP status: 503 Service Unavailable"), true},
		{"rate limited", errors.New("too many requests"), true},
		{"overlay race", errors.New("error creating overlay mount to /var/lib/containers"), true},
		{"permanent", errors.New("manifest unknown: image not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransientError(tt.err); got != tt.want {
				t.Errorf("IsTransientError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

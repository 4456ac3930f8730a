package testutil

import (
	"bytes"
	"testing"

	"github.com/Lobbi-Docs/secretops/internal/logging"
)

// NewLogger returns a debug logger that captures output into the returned
// buffer so tests can assert on log content.
func NewLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return logging.NewWithWriter(&buf, true), &buf
}

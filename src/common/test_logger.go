package common

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

// testWriter relays log lines to testing.T.Log so that logging only shows up
// for failed tests (or with -v).
type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(d []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(d, "\n")))
	return len(d), nil
}

// NewTestLogger returns a debug-level logger that writes through the test's
// own log.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.Out = &testWriter{t: t}
	logger.Level = logrus.DebugLevel
	return logger
}

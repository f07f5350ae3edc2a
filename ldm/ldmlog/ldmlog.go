// Package ldmlog is a thin logrus wrapper carrying the teacher's
// entry/exit trace convention (">>>>> FuncName" / "<<<<< FuncName")
// into this module, scoped down from the teacher's logger.Logr: no
// opentracing/Jaeger span plumbing, no lumberjack file rotation — this
// module runs as a short-lived scan/plan/create call graph, not a
// long-running daemon, so those two concerns have nowhere to attach
// (see DESIGN.md "Dropped teacher dependencies").
package ldmlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is re-exported so callers don't need to import logrus directly
// just to build a WithFields() call.
type Fields = logrus.Fields

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel parses level ("trace", "debug", "info", "warn", "error") and
// applies it to the package logger, falling back to Info on an
// unrecognized value.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	std.SetLevel(parsed)
}

// SetOutput redirects the package logger, mainly for tests that want to
// assert on emitted lines instead of spamming stderr.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Entry returns a logrus entry scoped to the given component, so
// callers can chain WithField/WithError before logging.
func Entry(component string) *logrus.Entry {
	return std.WithField("component", component)
}

// Enter logs the teacher's entry trace line for fn and returns a
// closure that logs the matching exit line; the idiomatic call shape
// is `defer ldmlog.Enter(log, "AddDevice")()`.
func Enter(e *logrus.Entry, fn string) func() {
	e.Tracef(">>>>> %s", fn)
	return func() {
		e.Tracef("<<<<< %s", fn)
	}
}

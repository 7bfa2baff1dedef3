// Package logtest installs a logger whose fatal path panics instead of
// exiting, so tests can assert on unrecoverable failures.
package logtest

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/xupit3r/syncmem/internal/logging"
)

// ExitPanic is the value the installed ExitFunc panics with
type ExitPanic struct {
	Code int
}

// Install swaps in a null logger at debug level for the duration of t and
// returns its hook
func Install(t testing.TB) *test.Hook {
	t.Helper()

	prev := logging.Get()
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	l.ExitFunc = func(code int) { panic(ExitPanic{Code: code}) }
	logging.SetLogger(l)

	t.Cleanup(func() { logging.SetLogger(prev) })
	return hook
}

// RequireFatal runs fn and fails t unless it went down the fatal path with a
// message containing substr
func RequireFatal(t testing.TB, hook *test.Hook, substr string, fn func()) {
	t.Helper()

	hook.Reset()
	fatal := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				if _, isExit := r.(ExitPanic); !isExit {
					panic(r)
				}
				ok = true
			}
		}()
		fn()
		return false
	}()

	if !fatal {
		t.Fatalf("expected fatal failure containing %q, call returned normally", substr)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.FatalLevel {
		t.Fatalf("expected a fatal log entry, got %v", entry)
	}
	if !strings.Contains(entry.Message, substr) {
		t.Fatalf("fatal message %q does not contain %q", entry.Message, substr)
	}
}

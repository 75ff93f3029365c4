// Package loggingtest provides a Logger that records entries so tests can
// wait for and count them.
package loggingtest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portfolio/apigateway/logging"
)

var ErrWaitTimeout = errors.New("timeout")

type recorder struct {
	mu      sync.Mutex
	entries []string
	changed chan struct{}
}

// TestLogger implements logging.Logger and keeps every entry in memory.
// Loggers derived with WithFields share the recorded entries.
type TestLogger struct {
	rec    *recorder
	fields map[string]any
}

var _ logging.Logger = &TestLogger{}

func New() *TestLogger {
	return &TestLogger{rec: &recorder{changed: make(chan struct{})}}
}

func (tl *TestLogger) save(level, msg string) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	keys := slices.Collect(maps.Keys(tl.fields))
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, tl.fields[k])
	}

	tl.rec.mu.Lock()
	tl.rec.entries = append(tl.rec.entries, b.String())
	close(tl.rec.changed)
	tl.rec.changed = make(chan struct{})
	tl.rec.mu.Unlock()
}

func (tl *TestLogger) count(exp string) (int, <-chan struct{}) {
	tl.rec.mu.Lock()
	defer tl.rec.mu.Unlock()

	n := 0
	for _, e := range tl.rec.entries {
		if strings.Contains(e, exp) {
			n++
		}
	}
	return n, tl.rec.changed
}

// Count returns the number of entries containing exp.
func (tl *TestLogger) Count(exp string) int {
	n, _ := tl.count(exp)
	return n
}

// Entries returns a copy of the recorded entries.
func (tl *TestLogger) Entries() []string {
	tl.rec.mu.Lock()
	defer tl.rec.mu.Unlock()
	return slices.Clone(tl.rec.entries)
}

// WaitForN blocks until at least n entries contain exp or the timeout
// expires.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), to)
	defer cancel()

	for {
		got, changed := tl.count(exp)
		if got >= n {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ErrWaitTimeout
		}
	}
}

func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

func (tl *TestLogger) Reset() {
	tl.rec.mu.Lock()
	tl.rec.entries = nil
	tl.rec.mu.Unlock()
}

func (tl *TestLogger) WithFields(fields map[string]any) logging.Logger {
	merged := make(map[string]any, len(tl.fields)+len(fields))
	maps.Copy(merged, tl.fields)
	maps.Copy(merged, fields)
	return &TestLogger{rec: tl.rec, fields: merged}
}

func (tl *TestLogger) Error(a ...any)            { tl.save("error", fmt.Sprint(a...)) }
func (tl *TestLogger) Errorf(f string, a ...any) { tl.save("error", fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Warn(a ...any)             { tl.save("warn", fmt.Sprint(a...)) }
func (tl *TestLogger) Warnf(f string, a ...any)  { tl.save("warn", fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Info(a ...any)             { tl.save("info", fmt.Sprint(a...)) }
func (tl *TestLogger) Infof(f string, a ...any)  { tl.save("info", fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Debug(a ...any)            { tl.save("debug", fmt.Sprint(a...)) }
func (tl *TestLogger) Debugf(f string, a ...any) { tl.save("debug", fmt.Sprintf(f, a...)) }

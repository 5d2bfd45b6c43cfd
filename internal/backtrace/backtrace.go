// Package backtrace is the best-effort debug helper spec.md names as an
// external collaborator: callers ask for a Trace and get an opaque
// value they can later Format for a post-mortem log line. Capture is
// skipped entirely unless enabled, since runtime.Callers is not free.
package backtrace

import (
	"runtime"
	"strings"
)

// Trace is an opaque captured call stack.
type Trace struct {
	pcs []uintptr
}

// Capture records the calling goroutine's stack, skipping `skip`
// additional frames above Capture itself. Returns the zero Trace
// (Empty() == true) when enabled is false, so call sites can pass a
// config flag straight through without a branch.
func Capture(enabled bool, skip int) Trace {
	if !enabled {
		return Trace{}
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	return Trace{pcs: pcs[:n]}
}

// Empty reports whether no stack was captured.
func (t Trace) Empty() bool { return len(t.pcs) == 0 }

// Format renders the trace as a multi-line string suitable for a log
// entry. Returns "" for an empty trace.
func (t Trace) Format() string {
	if t.Empty() {
		return ""
	}
	frames := runtime.CallersFrames(t.pcs)
	var b strings.Builder
	for {
		frame, more := frames.Next()
		b.WriteString(frame.Function)
		b.WriteByte('\n')
		if !more {
			break
		}
	}
	return b.String()
}

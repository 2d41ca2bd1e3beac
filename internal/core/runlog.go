package core

import (
	"fmt"
	"strings"
)

// RunLog records one import: diagnostic lines, captured process output and
// captured process errors or warnings. It only grows while the import runs;
// the copy handed to callers is never mutated afterwards.
type RunLog struct {
	Log    []string `json:"log"`
	Stdout []string `json:"stdout"`
	Err    []string `json:"err"`

	// emit, when set, receives every appended line together with the name
	// of the sequence it went to.
	emit func(stream, line string)
}

// newRunLog returns a RunLog forwarding each line to emit.
func newRunLog(emit func(stream, line string)) *RunLog {
	return &RunLog{emit: emit}
}

// Logf appends a diagnostic line.
func (l *RunLog) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	l.Log = append(l.Log, line)
	l.forward("log", line)
}

// AddStdout appends captured standard output. Blank output is dropped.
func (l *RunLog) AddStdout(out string) {
	if out = strings.TrimSpace(out); out != "" {
		l.Stdout = append(l.Stdout, out)
		l.forward("stdout", out)
	}
}

// AddErr appends a captured error or warning. Blank output is dropped.
func (l *RunLog) AddErr(out string) {
	if out = strings.TrimSpace(out); out != "" {
		l.Err = append(l.Err, out)
		l.forward("err", out)
	}
}

func (l *RunLog) forward(stream, line string) {
	if l.emit != nil {
		l.emit(stream, line)
	}
}

// Snapshot returns an independent copy that forwards nowhere.
func (l *RunLog) Snapshot() RunLog {
	return RunLog{
		Log:    append([]string{}, l.Log...),
		Stdout: append([]string{}, l.Stdout...),
		Err:    append([]string{}, l.Err...),
	}
}

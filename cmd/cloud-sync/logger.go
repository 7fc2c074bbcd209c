package main

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// stdLogger is a minimal logx.Logger implementation backed by the standard
// library's log package. No example in the pack ever constructs a "real"
// logx.Logger - every consumer takes one as an optional fx dependency and
// falls back to logx.NewNoopLogger() - so the daemon entrypoints need one
// concrete implementation to actually see output on a terminal or in a
// unit's journal. Matches the Debug/Info/Warn/Error(msg, args...) shape the
// teacher's own logx.Logger-compatible adapters use.
type stdLogger struct {
	name string
	std  *log.Logger
}

func newStdLogger(name string) *stdLogger {
	return &stdLogger{name: name, std: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *stdLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *stdLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *stdLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }

func (l *stdLogger) log(level, msg string, args ...any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", level, l.name, msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	l.std.Print(b.String())
}

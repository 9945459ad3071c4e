// Package flog is a tiny non-blocking logger: callers never wait on I/O,
// slow output degrades to dropped lines instead of backpressure on the
// demultiplexer's hot path.
package flog

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

type Level int

const None Level = -1
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var (
	minLevel atomic.Int32
	logCh    = make(chan string, 1024)
	dropped  atomic.Uint64
	started  atomic.Bool
)

func init() {
	minLevel.Store(int32(Info))
}

// Dropped returns the number of log lines dropped because the writer
// goroutine fell behind.
func Dropped() uint64 { return dropped.Load() }

var levelStrings = [...]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

// SetLevel sets the minimum level that reaches the writer goroutine.
// Pass None to silence logging entirely. Safe to call more than once;
// the background writer is only started the first time a level other
// than None is set.
func SetLevel(l Level) {
	minLevel.Store(int32(l))
	if l != None && started.CompareAndSwap(false, true) {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stderr, msg)
			}
		}()
	}
}

func logf(level Level, format string, args ...any) {
	cur := Level(minLevel.Load())
	if cur == None || level < cur {
		return
	}
	if !started.Load() {
		return
	}

	// Check capacity before formatting to avoid wasted allocation on a full channel.
	if len(logCh) == cap(logCh) {
		dropped.Add(1)
		return
	}

	levelStr := "UNKNOWN"
	if int(level) >= 0 && int(level) < len(levelStrings) {
		levelStr = levelStrings[level]
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s\n", now, levelStr, fmt.Sprintf(format, args...))

	select {
	case logCh <- line:
	default:
		dropped.Add(1)
	}
}

// ParseLevel maps a config string ("debug", "info", "warn", "error",
// "none") onto a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	case "none":
		return None, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) String() string {
	if int(l) >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	if l == None {
		return "None"
	}
	return "UNKNOWN"
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }
func Fatalf(format string, args ...any) {
	logf(Fatal, format, args...)
	time.Sleep(10 * time.Millisecond)
	os.Exit(1)
}

// Close shuts down the background writer. Only the process's final owner
// (typically cmd/udpmuxd) should call this, and only once.
func Close() {
	if started.Load() {
		close(logCh)
	}
}

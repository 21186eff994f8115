// Package logging provides categorized file logging for the ain runtime.
// Each subsystem logs to its own dated file under .ain/logs/ so a single
// misbehaving stage can be read in isolation. Until Initialize is called
// every logger is a no-op, which keeps unit tests quiet.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies a subsystem log stream.
type Category string

const (
	CategorySupervisor Category = "supervisor"
	CategoryEngine     Category = "engine"
	CategoryScheduler  Category = "scheduler"
	CategoryEvolution  Category = "evolution"
	CategoryDream      Category = "dream"
	CategoryCoder      Category = "coder"
	CategorySanitize   Category = "sanitize"
	CategoryApply      Category = "apply"
	CategoryTestRun    Category = "testrun"
	CategoryGit        Category = "git"
	CategoryJournal    Category = "journal"
	CategoryVector     Category = "vector"
	CategoryFactCore   Category = "factcore"
	CategoryKV         Category = "kv"
	CategoryTelegram   Category = "telegram"
	CategoryAttention  Category = "attention"
	CategoryMeta       Category = "meta"
	CategoryReflex     Category = "reflex"
	CategoryTemporal   Category = "temporal"
	CategoryResource   Category = "resource"
	CategoryEmbedding  Category = "embedding"
	CategoryGuard      Category = "guard"
	CategoryBoot       Category = "boot"
	CategoryAudit      Category = "audit"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu          sync.RWMutex
	initialized bool
	logDir      string
	jsonMode    bool
	debugAll    bool
	debugCats   = map[Category]bool{}
	loggers     = map[Category]*Logger{}
	noop        = &Logger{disabled: true}
)

// Initialize prepares the log directory under the workspace and enables
// all category loggers. Safe to call more than once; later calls re-point
// the directory.
func Initialize(workspace string) error {
	dir := filepath.Join(workspace, ".ain", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	logDir = dir
	initialized = true
	loggers = map[Category]*Logger{}
	return nil
}

// SetJSONMode switches log lines to one JSON object per line.
func SetJSONMode(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	jsonMode = enabled
}

// SetDebug enables debug-level output for the given categories.
// With no arguments it enables debug everywhere.
func SetDebug(cats ...Category) {
	mu.Lock()
	defer mu.Unlock()
	if len(cats) == 0 {
		debugAll = true
		return
	}
	for _, c := range cats {
		debugCats[c] = true
	}
}

// Shutdown closes every open log file, the audit trail included. The
// next Get reopens lazily.
func Shutdown() {
	CloseAudit()
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.close()
	}
	loggers = map[Category]*Logger{}
	initialized = false
}

// Get returns the logger for a category. Before Initialize it returns a
// no-op logger so callers never need a nil check.
func Get(cat Category) *Logger {
	mu.RLock()
	if !initialized {
		mu.RUnlock()
		return noop
	}
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := &Logger{cat: cat, dir: logDir}
	loggers[cat] = l
	return l
}

func debugEnabled(cat Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugAll || debugCats[cat]
}

// Logger writes dated, levelled lines for one category.
type Logger struct {
	cat      Category
	dir      string
	disabled bool

	fmu  sync.Mutex
	file *os.File
	date string
}

// Debug logs at debug level when the category has debug enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.disabled || !debugEnabled(l.cat) {
		return
	}
	l.write(LevelDebug, format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.disabled {
		return
	}
	l.write(LevelInfo, format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.disabled {
		return
	}
	l.write(LevelWarn, format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.disabled {
		return
	}
	l.write(LevelError, format, args...)
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	now := time.Now()
	msg := fmt.Sprintf(format, args...)

	l.fmu.Lock()
	defer l.fmu.Unlock()

	if err := l.ensureFile(now); err != nil {
		return
	}

	mu.RLock()
	asJSON := jsonMode
	mu.RUnlock()

	if asJSON {
		line, err := json.Marshal(map[string]string{
			"ts":       now.Format(time.RFC3339Nano),
			"level":    string(level),
			"category": string(l.cat),
			"message":  msg,
		})
		if err != nil {
			return
		}
		fmt.Fprintf(l.file, "%s\n", line)
		return
	}
	fmt.Fprintf(l.file, "%s [%s] %s\n", now.Format("15:04:05.000"), level, msg)
}

// ensureFile opens (or rotates to) the dated file for now. Callers hold fmu.
func (l *Logger) ensureFile(now time.Time) error {
	date := now.Format("2006-01-02")
	if l.file != nil && l.date == date {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("%s_%s.log", date, l.cat))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.date = date
	return nil
}

func (l *Logger) close() {
	l.fmu.Lock()
	defer l.fmu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

// =============================================================================
// OPERATION TIMERS
// =============================================================================

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation in a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.cat).Debug("%s took %v", t.op, time.Since(t.start))
}

// StopWithThreshold logs at warn level when the operation exceeded the
// threshold, debug otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.cat).Warn("%s took %v (threshold %v)", t.op, elapsed, threshold)
		return
	}
	Get(t.cat).Debug("%s took %v", t.op, elapsed)
}

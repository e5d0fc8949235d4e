// Package mocks provides shared test doubles.
package mocks

import (
	"sync"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// LogEntry is one captured log call
type LogEntry struct {
	Fields  map[string]interface{}
	Level   string
	Message string
}

// RecordingLogger captures every log call for assertions
type RecordingLogger struct {
	entries []LogEntry
	mu      sync.Mutex
}

var _ ports.Logger = (*RecordingLogger)(nil)

// NewRecordingLogger returns an empty recording logger
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) Info(msg string, fields ...ports.Field)  { l.record("info", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...ports.Field) { l.record("error", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...ports.Field)  { l.record("warn", msg, fields) }
func (l *RecordingLogger) Debug(msg string, fields ...ports.Field) { l.record("debug", msg, fields) }

// Entries returns the captured entries at level, or all entries when level is empty
func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LogEntry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (l *RecordingLogger) record(level, msg string, fields []ports.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.entries = append(l.entries, LogEntry{Level: level, Message: msg, Fields: m})
}

// Package ops provides task-scoped structured logging for the agent, its
// controllers, and the notifier task. It mirrors the shape of Flow's own
// ops.Logger: a small interface that can either forward straight to
// logrus (used by CLIs and the agent process itself) or be wrapped with
// additional fields (used to scope a log line to a catalog name, a
// controller kind, or a publication id).
package ops

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Logger publishes log messages scoped to a specific task or subsystem.
type Logger interface {
	// Log writes a log event with the given parameters.
	Log(level log.Level, fields log.Fields, message string) error
	// LogForwarded writes a log event whose fields arrived pre-serialized,
	// e.g. forwarded from a connector's stderr stream.
	LogForwarded(ts time.Time, level log.Level, fields map[string]json.RawMessage, message string) error
	// Level returns the current configured level filter of the Logger.
	Level() log.Level
}

// WithFields wraps delegate, adding add to every logged event.
func WithFields(delegate Logger, add log.Fields) Logger {
	var addJSON = make(map[string]json.RawMessage, len(add))
	for k, v := range add {
		encoded, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("encoding log field %q: %v", k, err))
		}
		addJSON[k] = encoded
	}
	return &withFieldsLogger{delegate: delegate, add: add, addJSON: addJSON}
}

type withFieldsLogger struct {
	delegate Logger
	add      log.Fields
	addJSON  map[string]json.RawMessage
}

func (l *withFieldsLogger) Level() log.Level { return l.delegate.Level() }

func (l *withFieldsLogger) Log(level log.Level, fields log.Fields, message string) error {
	var final log.Fields
	if l.requiresCopy(level, len(fields)) {
		final = log.Fields{}
		for k, v := range l.add {
			final[k] = v
		}
		for k, v := range fields {
			final[k] = v
		}
	} else {
		final = l.add
	}
	return l.delegate.Log(level, final, message)
}

func (l *withFieldsLogger) LogForwarded(ts time.Time, level log.Level, fields map[string]json.RawMessage, message string) error {
	var final map[string]json.RawMessage
	if l.requiresCopy(level, len(fields)) {
		final = make(map[string]json.RawMessage, len(fields)+len(l.addJSON))
		for k, v := range l.addJSON {
			final[k] = v
		}
		for k, v := range fields {
			final[k] = v
		}
	} else {
		final = l.addJSON
	}
	return l.delegate.LogForwarded(ts, level, final, message)
}

// requiresCopy avoids copying the fields map when there's nothing to add,
// or when the event would be filtered out anyway.
func (l *withFieldsLogger) requiresCopy(level log.Level, givenLen int) bool {
	return givenLen > 0 && level <= l.delegate.Level()
}

type stdLogger struct{}

func (stdLogger) Level() log.Level { return log.GetLevel() }

func (l stdLogger) Log(level log.Level, fields log.Fields, message string) error {
	if level > l.Level() {
		return nil
	}
	log.WithFields(fields).Log(level, message)
	return nil
}

func (l stdLogger) LogForwarded(ts time.Time, level log.Level, fields map[string]json.RawMessage, message string) error {
	var entry = log.NewEntry(log.StandardLogger())
	entry.Time = ts
	for k, v := range fields {
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err == nil {
			entry.Data[k] = decoded
		}
	}
	entry.Log(level, message)
	return nil
}

// StdLogger returns a Logger that forwards directly to the logrus
// standard logger. Used by cmd/* entrypoints before any task scope exists.
func StdLogger() Logger { return stdLogger{} }

// ForController scopes a Logger to a controller tick for a given catalog name.
func ForController(delegate Logger, catalogName string, specType string) Logger {
	return WithFields(delegate, log.Fields{"catalogName": catalogName, "specType": specType})
}

// ForPublication scopes a Logger to a single publication attempt.
func ForPublication(delegate Logger, pubID string) Logger {
	return WithFields(delegate, log.Fields{"pubId": pubID})
}

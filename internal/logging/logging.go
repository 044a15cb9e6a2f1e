// Package logging configures the shared logrus instance used across the
// module and re-exports the leveled helpers so call sites can import it
// as `log`.
package logging

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Formatter renders entries as:
// [2026-01-02 15:04:05] [warn ] [openai.go:120] message key=value
type Formatter struct{}

// fieldOrder fixes the display order for common structured fields.
var fieldOrder = []string{"format", "model", "field", "reason", "mime", "error"}

// Format renders a single log entry.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range fieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%-5s] [%s:%d] %s%s\n",
			timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%-5s] %s%s\n", timestamp, level, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// Setup installs the formatter on the standard logger. Safe to call
// multiple times; initialization happens only once.
func Setup() {
	setupOnce.Do(func() {
		logrus.SetReportCaller(true)
		logrus.SetFormatter(&Formatter{})
	})
}

// SetLevel parses and applies a textual log level. Unknown values fall
// back to info.
func SetLevel(level string) {
	lv, err := logrus.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		lv = logrus.InfoLevel
	}
	logrus.SetLevel(lv)
}

// EnableFileOutput routes log output to a rotating file.
func EnableFileOutput(path string) {
	logrus.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
}

// Leveled helpers mirroring the logrus package surface.

func Tracef(format string, args ...any) { logrus.Tracef(format, args...) }
func Debugf(format string, args ...any) { logrus.Debugf(format, args...) }
func Infof(format string, args ...any)  { logrus.Infof(format, args...) }
func Warnf(format string, args ...any)  { logrus.Warnf(format, args...) }
func Errorf(format string, args ...any) { logrus.Errorf(format, args...) }

func Debug(args ...any) { logrus.Debug(args...) }
func Info(args ...any)  { logrus.Info(args...) }
func Warn(args ...any)  { logrus.Warn(args...) }
func Error(args ...any) { logrus.Error(args...) }

// Fields aliases logrus.Fields for structured entries.
type Fields = logrus.Fields

// WithField returns an entry carrying one structured field.
func WithField(key string, value any) *logrus.Entry { return logrus.WithField(key, value) }

// WithFields returns an entry carrying several structured fields.
func WithFields(fields Fields) *logrus.Entry { return logrus.WithFields(fields) }

// WithError returns an entry carrying an error field.
func WithError(err error) *logrus.Entry { return logrus.WithError(err) }

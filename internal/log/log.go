package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger     *logrus.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write to stderr with full timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
		})
		logger.SetLevel(logrus.InfoLevel)
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				logger.SetLevel(parsed)
			}
		}
	})
}

// SetLevel changes the minimum level. Accepts anything logrus.ParseLevel does
// ("debug", "info", "warn", "error", ...).
func SetLevel(level string) error {
	initLogger()
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	logger.SetLevel(parsed)
	return nil
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	initLogger()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	entry(kv...).Debug(msg)
}

func Info(msg string, kv ...any) {
	entry(kv...).Info(msg)
}

func Warn(msg string, kv ...any) {
	entry(kv...).Warn(msg)
}

func Error(msg string, err error, kv ...any) {
	entry(kv...).WithError(err).Error(msg)
}

func entry(kv ...any) *logrus.Entry {
	initLogger()
	return logger.WithFields(fields(kv...))
}

// fields turns key, value, key, value, ... into logrus.Fields.
// Non-string keys are skipped; a trailing odd value is ignored.
func fields(kv ...any) logrus.Fields {
	out := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = safeValue(kv[i+1])
	}
	return out
}

func safeValue(v any) any {
	switch t := v.(type) {
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

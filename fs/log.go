package fs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// InitLogging configures the global logger. level is one of the
// logrus level names ("debug", "info", "warning", "error").
func InitLogging(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", level, err)
	}
	logrus.SetLevel(l)
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006/01/02 15:04:05",
		FullTimestamp:   true,
	})
	return nil
}

// logf prefixes the message with the object the message is about, if
// any, and hands it to logrus at the given level.
func logf(level logrus.Level, o interface{}, text string, args ...interface{}) {
	if logrus.GetLevel() < level {
		return
	}
	out := fmt.Sprintf(text, args...)
	if o != nil {
		out = fmt.Sprintf("%v: %s", o, out)
	}
	switch level {
	case logrus.DebugLevel:
		logrus.Debug(out)
	case logrus.InfoLevel:
		logrus.Info(out)
	case logrus.WarnLevel:
		logrus.Warn(out)
	default:
		logrus.Error(out)
	}
}

// Debugf writes debug level output for o.
func Debugf(o interface{}, text string, args ...interface{}) {
	logf(logrus.DebugLevel, o, text, args...)
}

// Infof writes info level output for o.
func Infof(o interface{}, text string, args ...interface{}) {
	logf(logrus.InfoLevel, o, text, args...)
}

// Logf writes notice level output for o - something the operator
// should see in the default configuration.
func Logf(o interface{}, text string, args ...interface{}) {
	logf(logrus.WarnLevel, o, text, args...)
}

// Errorf writes error level output for o.
func Errorf(o interface{}, text string, args ...interface{}) {
	logf(logrus.ErrorLevel, o, text, args...)
}

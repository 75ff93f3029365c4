package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries. Primarily used to be
	// able to select between request log and application log
	// entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Minimum level of the application log entries. Zero
	// value keeps the current level.
	ApplicationLogLevel logrus.Level

	// When set, the application log is JSON formatted.
	ApplicationLogJSONEnabled bool

	// Output for the request log entries, when nil, os.Stderr is
	// used.
	RequestLogOutput io.Writer

	// When set, no request log is printed.
	RequestLogDisabled bool

	// When set, the request log is JSON formatted, otherwise the
	// logrus text format is used.
	RequestLogJSONEnabled bool
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

func initApplicationLog(o Options) {
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if o.ApplicationLogJSONEnabled {
		formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}

	if o.ApplicationLogPrefix != "" {
		formatter = &prefixFormatter{o.ApplicationLogPrefix, formatter}
	}

	logrus.SetFormatter(formatter)

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	if o.ApplicationLogLevel != 0 {
		logrus.SetLevel(o.ApplicationLogLevel)
	}
}

func initRequestLog(output io.Writer, jsonEnabled bool) {
	l := logrus.New()
	if jsonEnabled {
		l.Formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	} else {
		l.Formatter = &logrus.TextFormatter{DisableColors: true, TimestampFormat: timestampFormat, FullTimestamp: true}
	}
	l.Out = output
	l.Level = logrus.InfoLevel
	requestLog.Store(l)
}

// Initializes logging.
func Init(o Options) {
	initApplicationLog(o)

	if o.RequestLogDisabled {
		requestLog.Store(nil)
		return
	}

	if o.RequestLogOutput == nil {
		o.RequestLogOutput = os.Stderr
	}

	initRequestLog(o.RequestLogOutput, o.RequestLogJSONEnabled)
}

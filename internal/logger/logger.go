// Package logger builds the process logger. Entries logged with a context
// carrying an OpenTelemetry span are tagged with its trace and span ids.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

func New(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stdout
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(lvl)
	log.SetOutput(out)
	log.AddHook(traceHook{})
	return log, nil
}

type traceHook struct{}

func (traceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (traceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}

// LogError writes err with the module and function it came from.
func LogError(entry *logrus.Entry, module, funcName string, data any, err error) {
	fields := logrus.Fields{
		"module":   module,
		"funcName": funcName,
	}
	if data != nil {
		fields["data"] = data
	}
	entry.WithFields(fields).Error(err.Error())
}

// Package obslog provides structured logging for the agent fleet, with
// run/task/tool correlation fields layered on top of logrus.
package obslog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through agent code.
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	ToolKey      ContextKey = "tool"
	RunKeyKey    ContextKey = "run_key"
	TaskKeyKey   ContextKey = "task_key"
	PipelineKey  ContextKey = "pipeline_key"
)

// Logger wraps logrus.Logger with agent-fleet fields.
type Logger struct {
	*logrus.Logger
	agent string
}

// New creates a new Logger for the named agent process.
func New(agent, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, agent: agent}
}

// NewFromEnv builds a logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json — library dependencies (e.g. urllib3 equivalents) are not
// silenced here since Go's http.Client has no chatty default logger.
func NewFromEnv(agent string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(agent, level, format)
}

// WithContext creates an entry carrying every correlation field present
// in ctx plus the owning agent name.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("agent", l.agent)

	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(ToolKey); v != nil {
		entry = entry.WithField("tool", v)
	}
	if v := ctx.Value(RunKeyKey); v != nil {
		entry = entry.WithField("run_key", v)
	}
	if v := ctx.Value(TaskKeyKey); v != nil {
		entry = entry.WithField("task_key", v)
	}
	if v := ctx.Value(PipelineKey); v != nil {
		entry = entry.WithField("pipeline_key", v)
	}

	return entry
}

// WithFields creates an entry with the agent name plus custom fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["agent"] = l.agent
	return l.Logger.WithFields(fields)
}

// WithError creates an entry carrying an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"agent": l.agent, "error": err.Error()})
}

func NewTraceID() string { return uuid.New().String() }

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

func WithRunKey(ctx context.Context, runKey string) context.Context {
	return context.WithValue(ctx, RunKeyKey, runKey)
}

func WithTaskKey(ctx context.Context, taskKey string) context.Context {
	return context.WithValue(ctx, TaskKeyKey, taskKey)
}

func WithPipelineKey(ctx context.Context, pipelineKey string) context.Context {
	return context.WithValue(ctx, PipelineKey, pipelineKey)
}

var defaultLogger *Logger

// InitDefault initializes the package-level default logger returned by
// Default. No other package in this module calls Default; each takes
// an explicit Logger instead.
func InitDefault(agent, level, format string) {
	defaultLogger = New(agent, level, format)
}

// Default returns the default logger, lazily falling back to a basic
// one if InitDefault was never called (e.g. in unit tests).
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("agent", "info", "json")
	}
	return defaultLogger
}

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func parseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a leveled logger writing text or JSON lines.
type Logger struct {
	level      LogLevel
	output     io.Writer
	jsonFormat bool
	name       string
	mu         sync.Mutex
	exit       func(int)
}

// NewLogger creates a logger at the given level. Unknown levels fall back to INFO.
func NewLogger(level string) *Logger {
	return &Logger{
		level:  parseLevel(level),
		output: os.Stderr,
		exit:   os.Exit,
	}
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// SetJSONFormat switches between text and JSON lines.
func (l *Logger) SetJSONFormat(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonFormat = enabled
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(level)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, nil, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, nil, format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(WARNING, nil, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, nil, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, nil, format, args...)
	l.exit(1)
}

// WithFields returns a logger that attaches fields to every line.
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	copied := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &FieldLogger{logger: l, fields: copied}
}

func (l *Logger) log(level LogLevel, fields map[string]interface{}, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if l.jsonFormat {
		entry := map[string]string{
			"timestamp": timestamp,
			"level":     level.String(),
			"message":   message,
		}
		if l.name != "" {
			entry["logger"] = l.name
		}
		for _, k := range keys {
			entry[k] = fmt.Sprintf("%v", fields[k])
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "%s [%s] %s\n", timestamp, level, message)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.name != "" {
		b.WriteString(l.name)
		b.WriteString(": ")
	}
	b.WriteString(message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(l.output, b.String())
}

// FieldLogger carries a fixed set of fields.
type FieldLogger struct {
	logger *Logger
	fields map[string]interface{}
}

func (f *FieldLogger) Debug(format string, args ...interface{}) {
	f.logger.log(DEBUG, f.fields, format, args...)
}

func (f *FieldLogger) Info(format string, args ...interface{}) {
	f.logger.log(INFO, f.fields, format, args...)
}

func (f *FieldLogger) Warning(format string, args ...interface{}) {
	f.logger.log(WARNING, f.fields, format, args...)
}

func (f *FieldLogger) Error(format string, args ...interface{}) {
	f.logger.log(ERROR, f.fields, format, args...)
}

// GetLogr exposes the logger through the logr interface used by components.
func (l *Logger) GetLogr() logr.Logger {
	return logr.New(&logrSink{logger: l})
}

type logrSink struct {
	logger *Logger
	name   string
	values []interface{}
}

func (s *logrSink) Init(logr.RuntimeInfo) {}

// logr verbosity 0 maps to INFO, anything higher to DEBUG.
func (s *logrSink) Enabled(level int) bool {
	if level > 0 {
		return s.logger.shouldLog(DEBUG)
	}
	return s.logger.shouldLog(INFO)
}

func (s *logrSink) Info(level int, msg string, keysAndValues ...interface{}) {
	lvl := INFO
	if level > 0 {
		lvl = DEBUG
	}
	s.logger.log(lvl, s.fields(keysAndValues), "%s", s.prefix(msg))
}

func (s *logrSink) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := s.fields(keysAndValues)
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.log(ERROR, fields, "%s", s.prefix(msg))
}

func (s *logrSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	values := make([]interface{}, 0, len(s.values)+len(keysAndValues))
	values = append(values, s.values...)
	values = append(values, keysAndValues...)
	return &logrSink{logger: s.logger, name: s.name, values: values}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	full := name
	if s.name != "" {
		full = s.name + "." + name
	}
	return &logrSink{logger: s.logger, name: full, values: s.values}
}

func (s *logrSink) prefix(msg string) string {
	if s.name == "" {
		return msg
	}
	return s.name + ": " + msg
}

func (s *logrSink) fields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	all := append(append([]interface{}{}, s.values...), keysAndValues...)
	for i := 0; i+1 < len(all); i += 2 {
		fields[fmt.Sprintf("%v", all[i])] = all[i+1]
	}
	return fields
}

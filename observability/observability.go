// Package observability defines the logging surface of the library.
// Callers plug in their own logger; everything defaults to no-ops.
package observability

import (
	"fmt"
	"log"
	"os"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field      { return stringField{key, value} }
func Int(key string, value int) Field     { return intField{key, value} }
func Int64(key string, value int64) Field { return int64Field{key, value} }
func Error(key string, err error) Field   { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// StderrLogger writes key=value formatted lines to standard error. The
// CLI uses it; library code should receive a logger from its caller.
type StderrLogger struct {
	Verbose bool
	bound   []Field
}

func NewStderrLogger(verbose bool) *StderrLogger {
	return &StderrLogger{Verbose: verbose}
}

func (l *StderrLogger) Debug(msg string, fields ...Field) {
	if l.Verbose {
		l.emit("DEBUG", msg, fields)
	}
}
func (l *StderrLogger) Info(msg string, fields ...Field)  { l.emit("INFO", msg, fields) }
func (l *StderrLogger) Warn(msg string, fields ...Field)  { l.emit("WARN", msg, fields) }
func (l *StderrLogger) Error(msg string, fields ...Field) { l.emit("ERROR", msg, fields) }

func (l *StderrLogger) With(fields ...Field) Logger {
	bound := make([]Field, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &StderrLogger{Verbose: l.Verbose, bound: bound}
}

var stderr = log.New(os.Stderr, "", log.LstdFlags)

func (l *StderrLogger) emit(level, msg string, fields []Field) {
	line := level + " " + msg
	for _, f := range l.bound {
		line += fmt.Sprintf(" %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		line += fmt.Sprintf(" %s=%v", f.Key(), f.Value())
	}
	stderr.Println(line)
}

// Standard metric names emitted by the library.
const (
	MetricParseTime    = "pdf.parse.duration"
	MetricPageCount    = "pdf.pages.count"
	MetricDetectTime   = "split.detect.duration"
	MetricInvoiceCount = "split.invoices.count"
	MetricEditTime     = "edit.replace.duration"
	MetricWriteTime    = "pdf.write.duration"
)

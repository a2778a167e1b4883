// Package ferrors provides structured, traced errors for the
// federation core, each carrying a registered code that maps to an
// HTTP status and a Matrix "errcode" for the responses spec.md §4.10
// requires.
package ferrors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Severity classifies how urgently an operator should care about an
// error, independent of the HTTP status returned to the remote peer.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// StackFrame is one call-stack frame captured at error construction.
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// TracedError is a structured error carrying a registered code, a
// capture-time stack trace, and arbitrary key/value context -- useful
// when a rejected PDU or failed signature check needs enough detail in
// a log line to diagnose without reproducing the request.
type TracedError struct {
	Code     string   `json:"code"`
	Category string   `json:"category"`
	TraceID  string   `json:"trace_id"`
	Severity Severity `json:"severity"`

	Message  string `json:"message"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`

	Context map[string]interface{} `json:"context,omitempty"`
	Stack   []StackFrame           `json:"stack,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	cause error
}

func (e *TracedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TracedError) Unwrap() error { return e.cause }

// FormatJSON renders the full trace as indented JSON, for log sinks
// that prefer a structured blob over the one-line Error() form.
func (e *TracedError) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ErrorBuilder constructs a TracedError with a fluent API.
type ErrorBuilder struct {
	err *TracedError
}

var (
	traceIDCounter uint64
	traceIDMu      sync.Mutex
)

func generateTraceID() string {
	traceIDMu.Lock()
	defer traceIDMu.Unlock()
	traceIDCounter++
	return fmt.Sprintf("tr_%x_%d", time.Now().UnixNano(), traceIDCounter)
}

func captureStack(skip int) []StackFrame {
	var frames []StackFrame

	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return frames
	}
	callers := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callers.Next()
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		frames = append(frames, StackFrame{Function: frame.Function, File: frame.File, Line: frame.Line})
		if !more {
			break
		}
	}
	return frames
}

// NewBuilder creates a builder seeded from code's registered
// definition.
func NewBuilder(code string) *ErrorBuilder {
	_, file, line, _ := runtime.Caller(1)
	def := Lookup(code)

	return &ErrorBuilder{
		err: &TracedError{
			Code:      code,
			Category:  def.Category,
			Severity:  def.Severity,
			Message:   def.Message,
			TraceID:   generateTraceID(),
			Timestamp: time.Now(),
			File:      file,
			Line:      line,
			Context:   make(map[string]interface{}),
			Stack:     captureStack(1),
		},
	}
}

func (b *ErrorBuilder) Wrap(cause error) *ErrorBuilder {
	b.err.cause = cause
	if b.err.Message == "" && cause != nil {
		b.err.Message = cause.Error()
	}
	return b
}

func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err.Message = msg
	return b
}

func (b *ErrorBuilder) WithMessagef(format string, args ...interface{}) *ErrorBuilder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

func (b *ErrorBuilder) Build() *TracedError {
	if len(b.err.Context) == 0 {
		b.err.Context = nil
	}
	return b.err
}

func (b *ErrorBuilder) Error() error { return b.Build() }

// New creates a traced error with just a code and message.
func New(code, message string) *TracedError {
	return NewBuilder(code).WithMessage(message).Build()
}

// Newf creates a traced error with a formatted message.
func Newf(code, format string, args ...interface{}) *TracedError {
	return NewBuilder(code).WithMessagef(format, args...).Build()
}

// Wrap wraps an existing error under a registered code, taking the
// cause's message as its own.
func Wrap(code string, cause error) *TracedError {
	b := NewBuilder(code)
	b.err.Message = ""
	return b.Wrap(cause).Build()
}

// Package errors provides categorized errors with optional telemetry reporting.
//
// Errors are built fluently and carry the component that raised them, a
// category the API layer maps to status codes, and anonymized context:
//
//	return errors.New(err).
//	    Component("ledger").
//	    Category(errors.CategoryDatabase).
//	    Context("operation", "append").
//	    Build()
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for status mapping and telemetry
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryDatabase      ErrorCategory = "database"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryIntegration   ErrorCategory = "integration"

	// Detection and evidence pipeline categories
	CategoryModelInit        ErrorCategory = "model-initialization" // detector or recognizer model setup
	CategoryInference        ErrorCategory = "inference"            // detector run failures
	CategoryOCR              ErrorCategory = "ocr"                  // text recognition failures
	CategoryMediaDecode      ErrorCategory = "media-decode"         // unreadable image or video
	CategoryUnsupportedMedia ErrorCategory = "unsupported-media"    // file kind we do not process
	CategoryVideo            ErrorCategory = "video"                // frame source and sink failures
	CategoryLedger           ErrorCategory = "ledger"               // evidence ledger consistency
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// internalPrefix locates the package name in a fully qualified function name.
const internalPrefix = "github.com/ecoscout/ecoscout-go/internal/"

// componentNames renames packages whose directory is not the component name.
var componentNames = map[string]string{
	"conf": "configuration",
}

// EnhancedError wraps an error with the component, category and context it
// was raised with.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, anything else through the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component given to the builder, the one found on
// the call stack when telemetry is active, or ComponentUnknown.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported marks this error as sent to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.reported.Store(true)
}

// IsReported returns whether this error has been sent to telemetry
func (ee *EnhancedError) IsReported() bool {
	return ee.reported.Load()
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an enhanced error wrapping err
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts an enhanced error from a format string
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds one key to the error context
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext records the extension and a size bucket of a file, never its path.
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.Context("file_extension", fileExtension(filePath))
	}
	if fileSize > 0 {
		eb.Context("file_size_category", sizeBucket(fileSize))
	}
	return eb
}

// Timing records the operation name and how long it ran
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError. A missing category is taken from a wrapped
// EnhancedError. With telemetry active the component is looked up on the
// call stack, the category guessed from the message, and the error reported.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
	}

	if !hasActiveReporting.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		return ee
	}

	if ee.component == "" {
		ee.component = callerComponent()
	}
	if ee.Category == CategoryGeneric {
		ee.Category = detectCategory(eb.err, ee.component)
	}
	reportToTelemetry(ee)
	return ee
}

// hasActiveReporting is true while a telemetry reporter is installed and enabled
var hasActiveReporting atomic.Bool

// callerComponent names the first package on the stack outside this one.
func callerComponent() string {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if name, ok := componentOf(frame.Function); ok {
			return name
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// componentOf maps ".../internal/ledger.(*Ledger).Append" to "ledger";
// subpackages report their parent, e.g. api/middleware is "api".
func componentOf(function string) (string, bool) {
	_, rest, ok := strings.Cut(function, internalPrefix)
	if !ok {
		return "", false
	}
	pkg, _, _ := strings.Cut(rest, ".")
	pkg, _, _ = strings.Cut(pkg, "/")
	if pkg == "errors" || pkg == "" {
		return "", false
	}
	if name, ok := componentNames[pkg]; ok {
		return name, true
	}
	return pkg, true
}

func inheritedCategory(err error) ErrorCategory {
	var inner *EnhancedError
	if stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}
	return CategoryGeneric
}

// detectCategory guesses a category from the message, then the component.
func detectCategory(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "model"):
		return CategoryModelInit
	case strings.Contains(msg, "decode"):
		return CategoryMediaDecode
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		return CategoryNetwork
	case strings.Contains(msg, "file") || strings.Contains(msg, "open"):
		return CategoryFileIO
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return CategoryValidation
	}

	switch component {
	case "detector":
		return CategoryInference
	case "ocr", "preprocess":
		return CategoryOCR
	case "video":
		return CategoryVideo
	case "ledger":
		return CategoryLedger
	case "api":
		return CategoryHTTP
	}
	return CategoryGeneric
}

func fileExtension(path string) string {
	if i := strings.LastIndex(path, "."); i > 0 && i < len(path)-1 {
		return strings.ToLower(path[i+1:])
	}
	return "none"
}

func sizeBucket(size int64) string {
	const mib = 1 << 20
	switch {
	case size < 1<<10:
		return "tiny"
	case size < mib:
		return "small"
	case size < 10*mib:
		return "medium"
	case size < 100*mib:
		return "large"
	default:
		return "very-large"
	}
}

// NewStd creates a plain error
func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound checks if an error is an EnhancedError with CategoryNotFound.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

package quota

import "fmt"

// Stable error codes surfaced to callers. External layers translate
// these into their own status vocabulary without inspecting messages.
const (
	CodeNoEntity    = "NO_ENTITY"
	CodeInvalidKey  = "INVALID_KEY"
	CodeNoQuantity  = "NO_QUANTITY"
	CodeNoCapacity  = "NO_CAPACITY"
	CodeImportLimit = "IMPORT_LIMIT"
	CodeExportLimit = "EXPORT_LIMIT"
	CodeDuplicate   = "DUPLICATE"
	CodeInvalidData = "INVALID_DATA"
	CodeCorrupted   = "CORRUPTED"
)

// Error is an engine failure with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so callers can compare
// against the sentinel kinds below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel kinds for errors.Is comparisons.
var (
	ErrNoEntity    = &Error{Code: CodeNoEntity}
	ErrInvalidKey  = &Error{Code: CodeInvalidKey}
	ErrNoQuantity  = &Error{Code: CodeNoQuantity}
	ErrNoCapacity  = &Error{Code: CodeNoCapacity}
	ErrImportLimit = &Error{Code: CodeImportLimit}
	ErrExportLimit = &Error{Code: CodeExportLimit}
	ErrDuplicate   = &Error{Code: CodeDuplicate}
	ErrInvalidData = &Error{Code: CodeInvalidData}
	ErrCorrupted   = &Error{Code: CodeCorrupted}
)

func errf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NoEntity(format string, args ...interface{}) *Error {
	return errf(CodeNoEntity, format, args...)
}

func InvalidKey(format string, args ...interface{}) *Error {
	return errf(CodeInvalidKey, format, args...)
}

func NoQuantity(format string, args ...interface{}) *Error {
	return errf(CodeNoQuantity, format, args...)
}

func NoCapacity(format string, args ...interface{}) *Error {
	return errf(CodeNoCapacity, format, args...)
}

func ImportLimit(format string, args ...interface{}) *Error {
	return errf(CodeImportLimit, format, args...)
}

func ExportLimit(format string, args ...interface{}) *Error {
	return errf(CodeExportLimit, format, args...)
}

func Duplicate(format string, args ...interface{}) *Error {
	return errf(CodeDuplicate, format, args...)
}

func InvalidData(format string, args ...interface{}) *Error {
	return errf(CodeInvalidData, format, args...)
}

func Corrupted(format string, args ...interface{}) *Error {
	return errf(CodeCorrupted, format, args...)
}

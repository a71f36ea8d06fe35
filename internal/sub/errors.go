package sub

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

const stageParseSub = "parse_sub"

// ParseError describes one line or record that could not be decoded. The
// decoder never returns it; it is collected in Result.Errors.
type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(sourceURL string, lineNo int, snippet string, code string, message string, hint string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stageParseSub,
			URL:     sourceURL,
			Line:    lineNo,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// decodeError is returned by the per-scheme parsers; the caller attaches
// source, line and snippet when converting it to a ParseError.
type decodeError struct {
	Message string
	Cause   error
}

func (e *decodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *decodeError) Unwrap() error { return e.Cause }

func lineError(message string, cause error) error {
	return &decodeError{Message: message, Cause: cause}
}

package render

import (
	"fmt"

	"github.com/John-Robertt/nodesift/internal/model"
)

const (
	stageRender = "render"
	stageWrite  = "write"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

func newRenderError(code, message, snippet string, cause error) *RenderError {
	return &RenderError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stageRender,
			Snippet: snippet,
		},
		Cause: cause,
	}
}

// WriteError means the output document could not be persisted. It is the
// only failure that aborts a run.
type WriteError struct {
	AppError model.AppError
	Cause    error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

func newWriteError(path, message string, cause error) *WriteError {
	return &WriteError{
		AppError: model.AppError{
			Code:    "WRITE_FAILED",
			Message: message,
			Stage:   stageWrite,
			URL:     path,
		},
		Cause: cause,
	}
}

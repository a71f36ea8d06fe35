package store

import (
	"fmt"

	"github.com/John-Robertt/nodesift/internal/model"
)

const stageStore = "store"

type StoreError struct {
	AppError model.AppError
	Cause    error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func newStoreError(path, code, message string, line int, snippet string, cause error) *StoreError {
	return &StoreError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stageStore,
			URL:     path,
			Line:    line,
			Snippet: snippet,
		},
		Cause: cause,
	}
}

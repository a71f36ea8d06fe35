package probe

import (
	"fmt"

	"github.com/John-Robertt/nodesift/internal/model"
)

const stageProbe = "probe"

// ProbeError records why one node was dropped. It never stops the other
// probes.
type ProbeError struct {
	AppError model.AppError
	Cause    error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ProbeError) Unwrap() error { return e.Cause }

func newProbeError(p model.Proxy, code, message string, cause error) *ProbeError {
	return &ProbeError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stageProbe,
			Snippet: p.Key(),
		},
		Cause: cause,
	}
}

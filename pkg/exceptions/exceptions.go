// Package exceptions classifies task and planning errors as recoverable or
// fatal. Handlers are consulted in order; the first one that claims an error
// decides.
package exceptions

import (
	"github.com/gantry-io/gantry/pkg/registry"
)

// Response is the classification result persisted into stage context under
// the "exception" key when the error is fatal.
type Response struct {
	ExceptionType string         `json:"exceptionType"`
	Operation     string         `json:"operation"`
	Error         string         `json:"error"`
	Details       map[string]any `json:"details,omitempty"`
	ShouldRetry   bool           `json:"shouldRetry"`
}

// Handler classifies one family of errors.
type Handler interface {
	Handles(err error) bool
	Handle(operation string, err error) Response
}

// Classify runs err through the chain. The boolean is false when no handler
// claimed the error.
func Classify(handlers []Handler, operation string, err error) (Response, bool) {
	for _, h := range handlers {
		if h.Handles(err) {
			return h.Handle(operation, err), true
		}
	}

	return Response{}, false
}

// ShouldRetry reports whether the chain classified the error as
// recoverable.
func ShouldRetry(handlers []Handler, operation string, err error) bool {
	response, ok := Classify(handlers, operation, err)

	return ok && response.ShouldRetry
}

// DefaultHandler claims every error, treating those marked with
// registry.RetryableError as recoverable.
type DefaultHandler struct{}

func (DefaultHandler) Handles(error) bool { return true }

func (DefaultHandler) Handle(operation string, err error) Response {
	return Response{
		ExceptionType: "unexpectedError",
		Operation:     operation,
		Error:         err.Error(),
		ShouldRetry:   registry.IsRetryable(err),
	}
}

// DefaultChain is the chain used when no custom handlers are configured.
func DefaultChain() []Handler {
	return []Handler{DefaultHandler{}}
}

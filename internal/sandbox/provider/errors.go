package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// APIError is a provider API failure with its HTTP status attached.
// Branching on the status code here keeps the lifecycle core free of
// error-message string matching: a 404 satisfies
// errors.Is(err, domain.ErrSandboxNotFound).
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrSandboxNotFound
	}
	return nil
}

// IsNotFound reports whether err is a provider-confirmed not-found.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// isConflict reports a 409, which lifecycle calls treat as "already in
// the requested state".
func isConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

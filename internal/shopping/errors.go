package shopping

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by list operations. Match them with errors.Is.
var (
	ErrPermissionDenied = errors.New("shopping: permission denied")
	ErrAlreadyShared    = errors.New("shopping: list already shared with user")
	ErrNotFound         = errors.New("shopping: not found")
	ErrInvalidInput     = errors.New("shopping: invalid input")
	ErrStore            = errors.New("shopping: store failure")
)

// ServiceError carries a dotted code plus the error kind and its cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the error kind sentinel.
func (e *ServiceError) Kind() error {
	return e.kind
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

// ErrorCode returns the service error code carried by err, or an empty string.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

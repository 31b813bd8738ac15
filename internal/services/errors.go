package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthDenied marks a credential rejection from the server. Retrying
	// without new credentials will not help.
	ErrAuthDenied = errors.New("access denied")
	// ErrServerUnavailable marks a transport-level failure (connection
	// refused, timeout, or a 502 from the front proxy).
	ErrServerUnavailable = errors.New("server unavailable")
	// ErrRequestFailed marks an application-level rejection (a non-2xx
	// response other than the cases above).
	ErrRequestFailed = errors.New("request failed")

	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// Wrap builds an error message that includes pipeline phase context while
// tagging it with the provided marker for later classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrRequestFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a retry of the same call might succeed. Only
// transport-level failures qualify; auth and application rejections do not.
func Retryable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCheckTimeout marks an item that did not settle within its per-operation
// timeout. Recovered locally; never aborts sibling items.
var ErrCheckTimeout = errors.New("check timed out")

// ServiceError classifies an AWS call failure and whether retrying it can
// help. Adapted categorization of the common AWS error surfaces.
type ServiceError struct {
	Service   string
	Operation string
	Code      string
	Message   string
	Retryable bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s.%s: %s (%s)", e.Service, e.Operation, e.Message, e.Code)
}

// ClassifyError categorizes err for a service operation. Throttling,
// timeouts and transient unavailability are retryable; access denial and
// malformed requests are not.
func ClassifyError(service, operation string, err error) *ServiceError {
	if err == nil {
		return nil
	}

	serviceErr := &ServiceError{
		Service:   service,
		Operation: operation,
		Message:   err.Error(),
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "accessdenied") || strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "unauthorizedoperation") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden"):
		serviceErr.Code = "AccessDenied"
	case strings.Contains(msg, "throttling") || strings.Contains(msg, "rate exceeded") ||
		strings.Contains(msg, "too many requests"):
		serviceErr.Code = "ThrottlingException"
		serviceErr.Retryable = true
	case errors.Is(err, ErrCheckTimeout) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "timeout"):
		serviceErr.Code = "TimeoutException"
		serviceErr.Retryable = true
	case strings.Contains(msg, "service unavailable") || strings.Contains(msg, "internal error"):
		serviceErr.Code = "ServiceUnavailable"
		serviceErr.Retryable = true
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request"):
		serviceErr.Code = "InvalidRequest"
	default:
		serviceErr.Code = "UnknownError"
	}

	return serviceErr
}

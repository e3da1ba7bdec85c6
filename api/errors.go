package api

import (
	"net/http"

	"github.com/always-cache/fetchkit"
	"github.com/always-cache/fetchkit/cache"

	"github.com/jmgilman/go/errors"
)

// platformError classifies err for API clients.
func platformError(err error) errors.PlatformError {
	var (
		platformErr  errors.PlatformError
		transportErr *fetchkit.TransportError
		statusErr    *fetchkit.HTTPStatusError
		integrityErr *fetchkit.IntegrityError
		ioErr        *cache.IOError
	)
	switch {
	case errors.As(err, &platformErr):
		return platformErr
	case errors.Is(err, fetchkit.ErrDuplicateIdentifier):
		return errors.Wrap(err, errors.CodeAlreadyExists, "connection identifier is in use")
	case errors.Is(err, fetchkit.ErrCancelled):
		return errors.Wrap(err, errors.CodeConflict, "load was cancelled")
	case errors.Is(err, cache.ErrNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "no such cache entry")
	case errors.As(err, &transportErr):
		if transportErr.Timeout() {
			return errors.WithContext(errors.Wrap(err, errors.CodeTimeout, "load timed out"), "url", transportErr.URL)
		}
		return errors.WithContext(errors.Wrap(err, errors.CodeNetwork, "load failed"), "url", transportErr.URL)
	case errors.As(err, &statusErr):
		return errors.WithContextMap(errors.Wrap(err, errors.CodeExecutionFailed, "origin returned an error status"),
			map[string]interface{}{"url": statusErr.URL, "status": statusErr.StatusCode})
	case errors.As(err, &integrityErr):
		return errors.WithContextMap(errors.Wrap(err, errors.CodeNetwork, "body was truncated"),
			map[string]interface{}{"url": integrityErr.URL, "expected": integrityErr.Expected, "received": integrityErr.Received})
	case errors.As(err, &ioErr):
		return errors.Wrap(err, errors.CodeDatabase, "storage failed")
	default:
		return errors.Wrap(err, errors.CodeInternal, "internal error")
	}
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeAlreadyExists, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeNetwork, errors.CodeExecutionFailed:
		return http.StatusBadGateway
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

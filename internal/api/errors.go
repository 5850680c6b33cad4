package api

import (
	"errors"
	"net/http"

	"github.com/adarena/engine/internal/service"
)

// writeServiceError maps service error kinds to HTTP response codes.
// Internal details and stack traces never reach the wire.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, service.CodeInternal, "internal server error")
		return
	}

	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		var status int
		switch svcErr.Code {
		case service.CodeInvalidArgument:
			status = http.StatusBadRequest
		case service.CodeNotFound:
			status = http.StatusNotFound
		case service.CodeConflict:
			status = http.StatusConflict
		case service.CodeResourceExhausted:
			status = http.StatusServiceUnavailable
		case service.CodeRateLimited:
			status = http.StatusTooManyRequests
		case service.CodeUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
		}
		WriteError(w, status, svcErr.Code, svcErr.Message)
		return
	}

	WriteError(w, http.StatusInternalServerError, service.CodeInternal, "internal server error")
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, service.CodeInvalidArgument, message)
}

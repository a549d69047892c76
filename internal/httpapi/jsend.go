package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSend envelope statuses.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// respond writes the envelope. Only "error" responses echo the HTTP code in
// the body.
func respond(c echo.Context, code int, resp jsendResponse) error {
	if resp.Status == statusError {
		resp.Code = code
	}
	return c.JSON(code, resp)
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return respond(c, code, jsendResponse{Status: statusSuccess, Data: data})
}

// fail reports a client-side problem (4xx).
func fail(c echo.Context, code int, message string, data any) error {
	return respond(c, code, jsendResponse{Status: statusFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

// failUnavailable is used when a dependency such as the database is missing
// or down.
func failUnavailable(c echo.Context, message string) error {
	return respond(c, http.StatusServiceUnavailable, jsendResponse{Status: statusError, Message: message})
}

func internalError(c echo.Context, message string) error {
	return respond(c, http.StatusInternalServerError, jsendResponse{Status: statusError, Message: message})
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestJSendEnvelopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		write      func(c echo.Context) error
		wantStatus int
		wantJSend  string
		wantCode   int
	}{
		{name: "success", write: func(c echo.Context) error { return success(c, map[string]int{"n": 1}) }, wantStatus: http.StatusOK, wantJSend: statusSuccess},
		{name: "created", write: func(c echo.Context) error { return successWithStatus(c, http.StatusCreated, nil) }, wantStatus: http.StatusCreated, wantJSend: statusSuccess},
		{name: "not found", write: func(c echo.Context) error { return failNotFound(c, "Run not found") }, wantStatus: http.StatusNotFound, wantJSend: statusFail},
		{name: "unavailable", write: func(c echo.Context) error { return failUnavailable(c, "Database unavailable") }, wantStatus: http.StatusServiceUnavailable, wantJSend: statusError, wantCode: http.StatusServiceUnavailable},
		{name: "internal", write: func(c echo.Context) error { return internalError(c, "boom") }, wantStatus: http.StatusInternalServerError, wantJSend: statusError, wantCode: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if err := tc.write(c); err != nil {
				t.Fatalf("write response: %v", err)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}

			var body jsendResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tc.wantJSend || body.Code != tc.wantCode {
				t.Fatalf("unexpected envelope: %+v", body)
			}
		})
	}
}

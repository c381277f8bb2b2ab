package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"modelreg/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error, status int) {
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(errors.InternalError),
	}

	var regErr *errors.RegistryError
	if stderrors.As(err, &regErr) {
		resp.Code = string(regErr.Code)
		resp.Details = regErr.Details
	}

	WriteJSON(w, resp, status)
}

// WriteRegistryError writes err with its status derived from the error code
func WriteRegistryError(w http.ResponseWriter, err error) {
	WriteError(w, err, MapErrorToStatus(errors.CodeOf(err)))
}

// MapErrorToStatus maps registry error codes to HTTP status codes
func MapErrorToStatus(code errors.ErrorCode) int {
	switch code {
	case errors.InvalidArgument:
		return http.StatusBadRequest // 400
	case errors.UnsupportedPagination:
		return http.StatusUnprocessableEntity // 422
	case errors.NoProvider:
		return http.StatusNotFound // 404
	case errors.QueryFailed:
		return http.StatusBadGateway // 502
	case errors.Timeout:
		return http.StatusGatewayTimeout // 504
	case errors.Cancelled, errors.Interrupted:
		return http.StatusServiceUnavailable // 503
	case errors.CacheError, errors.InternalError:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// BadRequest writes a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InvalidArgument, message, nil), http.StatusBadRequest)
}

// MethodNotAllowed writes a 405 error
func MethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteError(w, errors.Newf(errors.InvalidArgument, "method not allowed, use %s", allowed), http.StatusMethodNotAllowed)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string, err error) {
	WriteError(w, errors.New(errors.InternalError, message, err), http.StatusInternalServerError)
}

package server

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/docscan/internal/common"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// httpStatus maps the error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	switch common.Code(err) {
	case codes.AlreadyExists, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}

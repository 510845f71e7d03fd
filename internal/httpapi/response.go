package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/valorence/relayctl/internal/errcode"
)

func jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse writes the JSON {message} error body §7 specifies.
func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, map[string]string{"message": message}, status)
}

// errorFromErr maps a component error to its HTTP status via errcode.
func errorFromErr(w http.ResponseWriter, err error) {
	code := errcode.Of(err)
	errorResponse(w, errcode.HTTPStatus(code), err.Error())
}

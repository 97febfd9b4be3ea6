package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope returned for every failed request.
type ErrorBody struct {
	Msg  string         `json:"msg"`
	Data map[string]any `json:"data"`
	Code string         `json:"code"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

package rest

import (
	"encoding/json"
	"net/http"
)

type successEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type errorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respond writes a success envelope. A nil data is sent as an empty object.
func respond(w http.ResponseWriter, status int, data any, message string) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, successEnvelope{StatusCode: status, Data: data, Message: message, Success: true})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{StatusCode: status, Message: message, Success: false})
}

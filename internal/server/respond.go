package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the JSON body shape shared by every status and error
// response: {status, result, reason}.
type envelope struct {
	Status int     `json:"status"`
	Result any     `json:"result"`
	Reason *string `json:"reason"`
}

// writeResult writes a success envelope carrying result.
func writeResult(w http.ResponseWriter, logger *slog.Logger, status int, result any) {
	writeEnvelope(w, logger, envelope{Status: status, Result: result})
}

// writeError writes an error envelope carrying a human-readable reason.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, reason string) {
	writeEnvelope(w, logger, envelope{Status: status, Reason: &reason})
}

func writeEnvelope(w http.ResponseWriter, logger *slog.Logger, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Status)

	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Warn("unable to write response body", "error", err)
	}
}

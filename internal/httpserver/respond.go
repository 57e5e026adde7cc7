package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/eclosion-app/eclosion/internal/apperr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorEnvelope is the standard JSON error envelope (spec §6):
// {success:false, error:<message>, code:<kind>}.
type errorEnvelope struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// RespondError writes the standard error envelope for an arbitrary error,
// mapping *apperr.Error to its kind's status code and falling back to 500
// for anything else (unexpected/unclassified errors).
func RespondError(w http.ResponseWriter, err error) {
	if ae, ok := apperr.As(err); ok {
		Respond(w, ae.Status(), errorEnvelope{
			Success:    false,
			Error:      ae.Message,
			Code:       string(ae.Kind),
			RetryAfter: ae.RetryAfter,
		})
		return
	}

	Respond(w, http.StatusInternalServerError, errorEnvelope{
		Success: false,
		Error:   err.Error(),
		Code:    string(apperr.Internal),
	})
}

// RespondErrorKind is a convenience for handlers that want to build an error
// envelope without constructing an *apperr.Error first.
func RespondErrorKind(w http.ResponseWriter, kind apperr.Kind, message string) {
	RespondError(w, apperr.Newf(kind, "%s", message))
}

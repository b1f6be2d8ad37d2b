package httptransport

import (
	"net/http"

	json "github.com/goccy/go-json"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorWriter renders a guard failure to the client.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// WriteError writes err as {"error": code, "message": text}. Only the fixed
// public message for the code is sent.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	status := oerrors.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="openguard"`)
	}
	_ = WriteJSON(w, status, errorBody{
		Error:   string(oerrors.CodeOf(err)),
		Message: oerrors.PublicMessage(err),
	})
}

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

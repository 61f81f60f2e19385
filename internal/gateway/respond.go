package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"shopgate/pkg/problems"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON request body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return problems.Wrap(problems.InvalidRequest, err, "malformed JSON body")
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return problems.KindOf(err).Status()
}

package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meshrelay/core/node"
)

// EncodeJSON writes data as a JSON response body, matching the teacher's
// API.go helper of the same name.
func EncodeJSON(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads a JSON request body into data, responding with 400 on any
// failure, matching the teacher's API.go helper of the same name.
func DecodeJSON(w http.ResponseWriter, r *http.Request, data interface{}) error {
	if r.Body == nil {
		http.Error(w, "", http.StatusBadRequest)
		return errors.New("controlapi: no request body")
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return err
	}
	return nil
}

// resultResponse is the JSON shape every command handler returns, mirroring
// spec.md §6.1's Result enum.
type resultResponse struct {
	Result string `json:"result"`
}

func writeResult(w http.ResponseWriter, result node.Result) {
	EncodeJSON(w, resultResponse{Result: string(result)})
}

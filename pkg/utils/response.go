package utils

import (
	"encoding/json"
	"net/http"

	ierr "billbook-backend/internal/errors"
)

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error writes {"error": msg} with the status that matches err's kind.
func Error(w http.ResponseWriter, err error) {
	JSON(w, ierr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

// BadRequest is for bodies that could not be decoded at all.
func BadRequest(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

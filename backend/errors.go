// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/ttbt-io/wicketkeeper/backend/scoring"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthenticated")
	ErrNotLeader    = errors.New("not leader")
)

// apiError is the body of every error response.
type apiError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Required string `json:"required,omitempty"`
}

// errorStatus maps an error to its HTTP status and kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, scoring.ErrValidation):
		return http.StatusBadRequest, scoring.ErrValidation.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthenticated"
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, scoring.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, scoring.ErrNotFound.Error()
	case errors.Is(err, scoring.ErrIneligibleSelection):
		return http.StatusUnprocessableEntity, scoring.KindName(err)
	case errors.Is(err, scoring.ErrInvalidState),
		errors.Is(err, scoring.ErrInningsCompleted),
		errors.Is(err, scoring.ErrMatchCompleted),
		errors.Is(err, scoring.ErrConflict):
		return http.StatusConflict, scoring.KindName(err)
	case errors.Is(err, ErrNotLeader):
		return http.StatusMisdirectedRequest, "NotLeader"
	}
	return http.StatusInternalServerError, "Internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := errorStatus(err)
	body := apiError{Kind: kind, Message: err.Error()}
	var se *scoring.Error
	if errors.As(err, &se) {
		body.Message = se.Message
		body.Required = se.Required
	}
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
		body.Message = "internal server error"
	}
	writeJSON(w, status, map[string]apiError{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

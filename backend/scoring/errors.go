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

package scoring

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidState        = errors.New("InvalidState")
	ErrIneligibleSelection = errors.New("IneligibleSelection")
	ErrInningsCompleted    = errors.New("InningsCompleted")
	ErrMatchCompleted      = errors.New("MatchCompleted")
	ErrValidation          = errors.New("ValidationError")
	ErrNotFound            = errors.New("NotFound")
	ErrConflict            = errors.New("Conflict")
)

// Error is returned by every engine operation that is rejected.
// Required names the action the caller should take next, if any.
type Error struct {
	Kind     error  `json:"-"`
	Op       string `json:"op"`
	Message  string `json:"message"`
	Required string `json:"required,omitempty"`
}

func (e *Error) Error() string {
	if e.Required != "" {
		return fmt.Sprintf("%s: %v: %s (required: %s)", e.Op, e.Kind, e.Message, e.Required)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// KindName returns the taxonomy name of err, or "" if err is not an engine error.
func KindName(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind.Error()
	}
	return ""
}

func newError(kind error, op, required, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Required: required}
}

func invalidState(op, required, format string, args ...any) *Error {
	return newError(ErrInvalidState, op, required, format, args...)
}

func ineligible(op, format string, args ...any) *Error {
	return newError(ErrIneligibleSelection, op, "", format, args...)
}

func validationError(op, format string, args ...any) *Error {
	return newError(ErrValidation, op, "", format, args...)
}

func notFound(op, format string, args ...any) *Error {
	return newError(ErrNotFound, op, "", format, args...)
}

// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package balloon holds the data model and error vocabulary shared by every
// subsystem: the store, the source/wind clients, the tracker, the ingest
// controller, the predictor, and the query service.
package balloon

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions (spec-mandated
// error kinds, see the controller's transition table).
type Kind string

const (
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindUpstreamCorrupt     Kind = "UpstreamCorrupt"
	KindWindRateLimited     Kind = "WindRateLimited"
	KindWindUnavailable     Kind = "WindUnavailable"
	KindStoreWriteFailed    Kind = "StoreWriteFailed"
	KindStoreReadFailed     Kind = "StoreReadFailed"
	KindNotFound            Kind = "NotFound"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindTimeout             Kind = "Timeout"
)

// Error wraps an underlying cause with a Kind and a human-readable message.
// API handlers use Kind to pick a status code; the ingest controller uses it
// to decide whether to retry, degrade, or fail.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap constructs an *Error of the given kind.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

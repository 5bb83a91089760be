// Copyright 2025 Verdin Energy
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

// Package fault defines the error taxonomy shared by all engine
// components. Callers classify failures with the Is* predicates rather
// than matching on message text.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is malformed or missing input. Caller's fault,
	// never retried automatically.
	KindValidation
	// KindNotFound is a referenced entity that does not exist.
	KindNotFound
	// KindConflict is a state conflict such as duplicate issuance or an
	// insufficient balance. The caller must re-decide, not blindly retry.
	KindConflict
	// KindLockTimeout is transient contention on a per-certificate lock.
	// Safe to retry with backoff.
	KindLockTimeout
	// KindExternalDependency is a persistence or chain-log collaborator
	// failure. Any in-memory mutation has been compensated before this
	// is returned.
	KindExternalDependency
	// KindIntegrity is a verifier-detected anomaly. Reported, never
	// auto-corrected.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLockTimeout:
		return "lock_timeout"
	case KindExternalDependency:
		return "external_dependency"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Well-known reason codes surfaced to callers and in API responses
const (
	ReasonDuplicatePeriod       = "duplicate_period"
	ReasonInsufficientBalance   = "insufficient_balance"
	ReasonMissingGenerationData = "missing_required_generation_data"
	ReasonCertificateExpired    = "certificate_expired"
	ReasonCertificateInactive   = "certificate_inactive"
	ReasonSourceInactive        = "source_inactive"
)

// Error is a classified engine error with an optional machine-readable
// reason code and wrapped cause.
type Error struct {
	Cause  error
	Reason string
	Msg    string
	Kind   Kind
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", e.Reason, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Validation(reason string, format string, args ...any) *Error {
	return &Error{
		Kind:   KindValidation,
		Reason: reason,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{
		Kind: KindNotFound,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func Conflict(reason string, format string, args ...any) *Error {
	return &Error{
		Kind:   KindConflict,
		Reason: reason,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func LockTimeout(format string, args ...any) *Error {
	return &Error{
		Kind: KindLockTimeout,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func ExternalDependency(cause error, format string, args ...any) *Error {
	return &Error{
		Kind:  KindExternalDependency,
		Msg:   fmt.Sprintf(format, args...),
		Cause: cause,
	}
}

func Integrity(reason string, format string, args ...any) *Error {
	return &Error{
		Kind:   KindIntegrity,
		Reason: reason,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// KindOf returns the classification of err, or KindUnknown for errors
// that did not originate in this taxonomy.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ReasonOf returns the reason code attached to err, if any.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsConflict(err error) bool { return KindOf(err) == KindConflict }

func IsLockTimeout(err error) bool { return KindOf(err) == KindLockTimeout }

func IsExternalDependency(err error) bool {
	return KindOf(err) == KindExternalDependency
}

func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// Retryable reports whether the caller may safely retry the failed
// operation. Only transient contention and collaborator failures
// qualify; conflicts and validation failures never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindExternalDependency:
		return true
	default:
		return false
	}
}

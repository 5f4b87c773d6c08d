// Copyright 2025 The arena Authors
// This file is part of the arena library.
//
// The arena library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The arena library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the arena library. If not, see <http://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Category classifies an external-call failure. The category alone decides
// whether an attempt is retried; the original cause is preserved for logs.
type Category string

const (
	CategoryAuthentication Category = "Authentication"
	CategoryRateLimited    Category = "RateLimited"
	CategoryQuotaExceeded  Category = "QuotaExceeded"
	CategoryTimeout        Category = "Timeout"
	CategoryNetwork        Category = "Network"
	CategoryServerError    Category = "ServerError"
	CategoryValidation     Category = "Validation"
	CategoryInvalidRequest Category = "InvalidRequest"
	CategoryUnknown        Category = "Unknown"
)

// Retryable reports whether failures of this category count against the
// retry budget rather than terminating the job.
func (c Category) Retryable() bool {
	switch c {
	case CategoryRateLimited, CategoryTimeout, CategoryNetwork, CategoryServerError:
		return true
	}
	return false
}

// Error is a categorized external-call failure.
type Error struct {
	Category   Category
	Message    string
	Fields     map[string]string // structured field errors for Validation
	RetryAfter time.Duration     // server-provided delay for RateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable is shorthand for e.Category.Retryable().
func (e *Error) Retryable() bool { return e.Category.Retryable() }

// NewError constructs a categorized error wrapping its cause.
func NewError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, cause: cause}
}

// Classify coerces an arbitrary failure into the taxonomy. Already-classified
// errors pass through; context deadlines become Timeout, transport failures
// become Network, anything else is Unknown (non-retryable).
func Classify(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CategoryTimeout, "external call timed out", err)
	case isNetError(err):
		return NewError(CategoryNetwork, "external call transport failure", err)
	}
	return NewError(CategoryUnknown, "unclassified failure", err)
}

func isNetError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}

// classifyResponse maps an HTTP status from an external service into the
// taxonomy. A 429 carries the server's Retry-After delay when present.
func classifyResponse(resp *http.Response, body string) *Error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Category: CategoryAuthentication, Message: body}
	case resp.StatusCode == http.StatusPaymentRequired:
		return &Error{Category: CategoryQuotaExceeded, Message: body}
	case resp.StatusCode == http.StatusTooManyRequests:
		e := &Error{Category: CategoryRateLimited, Message: body}
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return &Error{Category: CategoryTimeout, Message: body}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &Error{Category: CategoryValidation, Message: body}
	case resp.StatusCode >= 500:
		return &Error{Category: CategoryServerError, Message: body}
	}
	return &Error{Category: CategoryUnknown, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body)}
}

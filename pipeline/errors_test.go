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
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCategoryRetryable(t *testing.T) {
	retryable := []Category{CategoryRateLimited, CategoryTimeout, CategoryNetwork, CategoryServerError}
	terminal := []Category{CategoryAuthentication, CategoryQuotaExceeded, CategoryValidation, CategoryInvalidRequest, CategoryUnknown}

	for _, c := range retryable {
		require.True(t, c.Retryable(), "%s must be retryable", c)
	}
	for _, c := range terminal {
		require.False(t, c.Retryable(), "%s must not be retryable", c)
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := NewError(CategoryQuotaExceeded, "credits exhausted", nil)
	require.Same(t, orig, Classify(orig))

	// Also when wrapped.
	wrapped := Classify(errors.Join(errors.New("outer"), orig))
	require.Equal(t, CategoryQuotaExceeded, wrapped.Category)
}

func TestClassifyStandardErrors(t *testing.T) {
	require.Equal(t, CategoryTimeout, Classify(context.DeadlineExceeded).Category)
	require.Equal(t, CategoryNetwork, Classify(&net.OpError{Op: "dial", Err: errors.New("refused")}).Category)
	require.Equal(t, CategoryUnknown, Classify(errors.New("mystery")).Category)
}

func TestClassifyResponseStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{http.StatusUnauthorized, CategoryAuthentication},
		{http.StatusForbidden, CategoryAuthentication},
		{http.StatusPaymentRequired, CategoryQuotaExceeded},
		{http.StatusTooManyRequests, CategoryRateLimited},
		{http.StatusRequestTimeout, CategoryTimeout},
		{http.StatusGatewayTimeout, CategoryTimeout},
		{http.StatusBadRequest, CategoryValidation},
		{http.StatusUnprocessableEntity, CategoryValidation},
		{http.StatusInternalServerError, CategoryServerError},
		{http.StatusBadGateway, CategoryServerError},
		{http.StatusTeapot, CategoryUnknown},
	}
	for _, tt := range cases {
		resp := &http.Response{StatusCode: tt.status, Header: make(http.Header)}
		require.Equal(t, tt.want, classifyResponse(resp, "nope").Category, "status %d", tt.status)
	}
}

func TestClassifyResponseRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: make(http.Header)}
	resp.Header.Set("Retry-After", "7")

	cerr := classifyResponse(resp, "slow down")
	require.Equal(t, CategoryRateLimited, cerr.Category)
	require.Equal(t, 7*time.Second, cerr.RetryAfter)

	// Garbage header is ignored rather than rejected.
	resp.Header.Set("Retry-After", "soon")
	require.Zero(t, classifyResponse(resp, "slow down").RetryAfter)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	cerr := NewError(CategoryNetwork, "transport", cause)
	require.ErrorIs(t, cerr, cause)
	require.Contains(t, cerr.Error(), "Network")
	require.Contains(t, cerr.Error(), "socket closed")
}

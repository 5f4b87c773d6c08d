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

package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects malformed submissions. The wrapped detail
	// names the offending field.
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrUserLimit rejects submissions from callers at their active-job cap.
	ErrUserLimit = errors.New("user job limit exceeded")

	// ErrQueueFull rejects submissions while the system-wide queue is at
	// capacity.
	ErrQueueFull = errors.New("generation queue full")

	// ErrLimitUnavailable is the fail-closed answer when the active-job count
	// cannot be established. It is retriable from the caller's perspective.
	ErrLimitUnavailable = errors.New("job limit check unavailable, retry")

	// ErrEnqueue surfaces a work-queue outage during admission.
	ErrEnqueue = errors.New("failed to enqueue job")

	// ErrUnknownJob is returned for status or cancel requests on job ids the
	// pool has never seen.
	ErrUnknownJob = errors.New("unknown job")

	// ErrNotCancelable is returned when cancellation races job pickup.
	ErrNotCancelable = errors.New("job is no longer pending")
)

// UserLimitError carries the observed and permitted active-job counts.
// errors.Is(err, ErrUserLimit) matches it.
type UserLimitError struct {
	Current int
	Max     int
}

func (e *UserLimitError) Error() string {
	return fmt.Sprintf("user job limit exceeded (%d/%d)", e.Current, e.Max)
}

func (e *UserLimitError) Unwrap() error { return ErrUserLimit }

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

// Package event implements a typed one-to-many subscription feed. It is the
// fan-out primitive behind job progress streaming and combat broadcasts.
package event

import "errors"

// ErrFeedClosed is delivered on a subscription's error channel when the feed
// owning it is torn down.
var ErrFeedClosed = errors.New("event feed closed")

// Subscription represents a stream of events. The carrier of the events is
// typically a channel, but isn't part of the interface.
//
// Subscriptions can fail while established. Failures are reported through the
// error channel: it receives a value if there is an issue with the
// subscription (e.g. the feed it belongs to has been closed). Only one value
// will ever be sent.
//
// The error channel is closed when the subscription ends successfully (i.e.
// when Unsubscribe is called). Unsubscribe must be called in any case to
// ensure that resources related to the subscription are released.
type Subscription interface {
	// Err returns the error channel.
	Err() <-chan error
	// Unsubscribe cancels the sending of events and closes the error channel.
	Unsubscribe()
}

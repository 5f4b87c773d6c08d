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

package event

import "sync"

// Feed implements one-to-many subscriptions where the carrier of events is a
// channel. Values sent to a Feed are delivered to all subscribed channels.
//
// Delivery never blocks the sender: a subscriber whose channel has no free
// buffer space misses the value. Subscribers that must observe every value
// should size their buffers accordingly; publishers that require a terminal
// value to land use SendBlocking for that value alone.
//
// The zero value is ready to use.
type Feed[T any] struct {
	mu     sync.Mutex
	sinks  map[chan<- T]*feedSub[T]
	closed bool
}

// Subscribe adds a channel to the feed. Future sends will be delivered on the
// channel until the subscription is canceled.
func (f *Feed[T]) Subscribe(channel chan<- T) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &feedSub[T]{feed: f, channel: channel, removed: make(chan struct{}), err: make(chan error, 1)}
	if f.closed {
		// Late subscribers on a torn-down feed fail immediately.
		close(sub.removed)
		sub.err <- ErrFeedClosed
		return sub
	}
	if f.sinks == nil {
		f.sinks = make(map[chan<- T]*feedSub[T])
	}
	f.sinks[channel] = sub
	return sub
}

func (f *Feed[T]) remove(sub *feedSub[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sinks[sub.channel]; ok {
		delete(f.sinks, sub.channel)
		close(sub.removed)
	}
}

// Send delivers to all subscribed channels without blocking. It returns the
// number of subscribers that the value was sent to.
func (f *Feed[T]) Send(value T) (nsent int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.sinks {
		select {
		case ch <- value:
			nsent++
		default:
			// Subscriber is not keeping up; it misses this value.
		}
	}
	return nsent
}

// SendBlocking delivers to all subscribed channels, waiting for each to
// drain. It is intended for terminal values that every subscriber must
// observe. The wait for any one subscriber ends when that subscription is
// canceled or the feed is closed, so a stalled receiver that disconnects
// cannot wedge the publisher or withhold the value from its peers.
func (f *Feed[T]) SendBlocking(value T) (nsent int) {
	f.mu.Lock()
	subs := make([]*feedSub[T], 0, len(f.sinks))
	for _, sub := range f.sinks {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.channel <- value:
			nsent++
		case <-sub.removed:
			// Unsubscribed while blocked; it misses the value.
		}
	}
	return nsent
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

// Close tears the feed down. All active subscriptions receive ErrFeedClosed
// on their error channel and no further values are delivered.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.sinks {
		close(sub.removed)
		sub.errOnce.Do(func() {
			sub.err <- ErrFeedClosed
		})
	}
	f.sinks = nil
}

type feedSub[T any] struct {
	feed    *Feed[T]
	channel chan<- T
	removed chan struct{} // closed when the sink leaves the feed
	errOnce sync.Once
	err     chan error
}

func (sub *feedSub[T]) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *feedSub[T]) Err() <-chan error {
	return sub.err
}

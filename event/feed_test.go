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

import (
	"sync"
	"testing"
	"time"
)

func TestFeedSendDeliversToAll(t *testing.T) {
	var feed Feed[int]

	ch1 := make(chan int, 1)
	ch2 := make(chan int, 1)
	sub1 := feed.Subscribe(ch1)
	sub2 := feed.Subscribe(ch2)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	if n := feed.Send(7); n != 2 {
		t.Fatalf("sent to %d subscribers, want 2", n)
	}
	if got := <-ch1; got != 7 {
		t.Errorf("ch1 received %d, want 7", got)
	}
	if got := <-ch2; got != 7 {
		t.Errorf("ch2 received %d, want 7", got)
	}
}

func TestFeedSendSkipsFullSubscriber(t *testing.T) {
	var feed Feed[int]

	full := make(chan int) // unbuffered, nobody reading
	ok := make(chan int, 1)
	s1 := feed.Subscribe(full)
	s2 := feed.Subscribe(ok)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	if n := feed.Send(1); n != 1 {
		t.Fatalf("sent to %d subscribers, want 1", n)
	}
	if got := <-ok; got != 1 {
		t.Errorf("received %d, want 1", got)
	}
}

func TestFeedUnsubscribe(t *testing.T) {
	var feed Feed[string]

	ch := make(chan string, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	if n := feed.Send("x"); n != 0 {
		t.Fatalf("sent to %d subscribers after unsubscribe, want 0", n)
	}
	if _, ok := <-sub.Err(); ok {
		t.Error("Err channel delivered a value, want clean close")
	}
	// Double unsubscribe must be a no-op.
	sub.Unsubscribe()
}

func TestFeedClose(t *testing.T) {
	var feed Feed[int]

	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	feed.Close()

	if err := <-sub.Err(); err != ErrFeedClosed {
		t.Fatalf("Err() = %v, want ErrFeedClosed", err)
	}
	if n := feed.Send(1); n != 0 {
		t.Fatalf("sent to %d subscribers after close, want 0", n)
	}

	// Subscribing after close fails immediately.
	late := feed.Subscribe(make(chan int, 1))
	if err := <-late.Err(); err != ErrFeedClosed {
		t.Fatalf("late Err() = %v, want ErrFeedClosed", err)
	}
}

func TestFeedSendBlockingWaits(t *testing.T) {
	var feed Feed[int]

	ch := make(chan int) // unbuffered
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	go func() {
		defer wg.Done()
		got = <-ch
	}()

	if n := feed.SendBlocking(42); n != 1 {
		t.Fatalf("sent to %d subscribers, want 1", n)
	}
	wg.Wait()
	if got != 42 {
		t.Errorf("received %d, want 42", got)
	}
}

func TestFeedSendBlockingAbandonedOnUnsubscribe(t *testing.T) {
	var feed Feed[int]

	stuck := make(chan int) // unbuffered, never read
	healthy := make(chan int, 1)
	stuckSub := feed.Subscribe(stuck)
	healthySub := feed.Subscribe(healthy)
	defer healthySub.Unsubscribe()

	done := make(chan int, 1)
	go func() {
		done <- feed.SendBlocking(42)
	}()

	// The publisher is parked on the stalled receiver. Its disconnect must
	// release the send without taking the healthy subscriber's frame with it.
	time.Sleep(10 * time.Millisecond)
	stuckSub.Unsubscribe()

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("sent to %d subscribers, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("SendBlocking still wedged after the stalled subscriber left")
	}
	if got := <-healthy; got != 42 {
		t.Errorf("healthy subscriber received %d, want 42", got)
	}
}

func TestFeedSendBlockingAbandonedOnClose(t *testing.T) {
	var feed Feed[int]

	stuck := make(chan int)
	feed.Subscribe(stuck)

	done := make(chan struct{})
	go func() {
		feed.SendBlocking(1)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	feed.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendBlocking still wedged after the feed closed")
	}
}

func TestFeedConcurrentSendAndUnsubscribe(t *testing.T) {
	var feed Feed[int]

	const subs = 16
	channels := make([]chan int, subs)
	subscriptions := make([]Subscription, subs)
	for i := range channels {
		channels[i] = make(chan int, 256)
		subscriptions[i] = feed.Subscribe(channels[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			feed.Send(i)
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subscriptions[:subs/2] {
			sub.Unsubscribe()
		}
	}()
	wg.Wait()

	if feed.Len() != subs/2 {
		t.Fatalf("feed has %d subscribers, want %d", feed.Len(), subs/2)
	}
	feed.Close()
	if feed.Len() != 0 {
		t.Fatalf("feed has %d subscribers after close, want 0", feed.Len())
	}
}

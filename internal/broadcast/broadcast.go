// Package broadcast provides in-process multicast channels.
//
// Two flavours exist: [Subject] delivers only values published after a
// subscriber joined, [Replay] additionally hands every new subscriber the
// most recent value first.
//
// Every subscriber gets its own unbounded FIFO drained by one goroutine, so
// Publish never blocks on slow readers and all subscribers observe values in
// publish order. Values are shared between subscribers, not copied; receivers
// must not mutate them.
package broadcast

import (
	"context"
	"sync"
)

// Subscription is one subscriber's view of a channel.
type Subscription[T any] struct {
	ch     chan T
	filter func(T) bool

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []T
	received bool
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
	detach    func()
	stopCtx   func() bool
}

// C returns the channel values are delivered on. It is closed after
// [Subscription.Close] or when the subscription's context ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes. Pending undelivered values are dropped. Close is
// idempotent.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.detach()

		s.mu.Lock()
		stop := s.stopCtx
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		if stop != nil {
			stop()
		}

		s.cond.Broadcast()
		close(s.done)
	})
}

// Prime enqueues v only if nothing has been delivered to this subscription
// yet. It reports whether v was enqueued. Used to hand a late-loaded initial
// value to one subscriber without overtaking a live value.
func (s *Subscription[T]) Prime(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.received || s.closed {
		return false
	}

	s.enqueueLocked(v)

	return true
}

func (s *Subscription[T]) push(v T) {
	if s.filter != nil && !s.filter(v) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.enqueueLocked(v)
}

func (s *Subscription[T]) enqueueLocked(v T) {
	s.received = true
	s.queue = append(s.queue, v)
	s.cond.Signal()
}

func (s *Subscription[T]) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()

		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}

		if s.closed {
			s.mu.Unlock()

			return
		}

		v := s.queue[0]

		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]

		s.mu.Unlock()

		select {
		case s.ch <- v:
		case <-s.done:
			return
		}
	}
}

// hub holds the subscriber set shared by Subject and Replay.
type hub[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	last    T
	hasLast bool
	replay  bool
}

func (h *hub[T]) subscribe(ctx context.Context, filter func(T) bool) *Subscription[T] {
	sub := &Subscription[T]{
		ch:     make(chan T),
		filter: filter,
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	sub.detach = func() { h.remove(sub) }

	h.mu.Lock()

	if h.subs == nil {
		h.subs = make(map[*Subscription[T]]struct{})
	}

	h.subs[sub] = struct{}{}

	if h.replay && h.hasLast {
		sub.push(h.last)
	}

	h.mu.Unlock()

	go sub.pump()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Close)

		sub.mu.Lock()
		sub.stopCtx = stop
		sub.mu.Unlock()
	}

	return sub
}

func (h *hub[T]) remove(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, sub)
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.replay {
		h.last, h.hasLast = v, true
	}

	for sub := range h.subs {
		sub.push(v)
	}
}

func (h *hub[T]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Subject is a multicast channel without replay: subscribers see only values
// published after they subscribed.
type Subject[T any] struct {
	h hub[T]
}

// NewSubject returns a Subject with no subscribers.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers a subscriber. If filter is non-nil only values for
// which it returns true are delivered. The subscription closes when ctx ends.
func (s *Subject[T]) Subscribe(ctx context.Context, filter func(T) bool) *Subscription[T] {
	return s.h.subscribe(ctx, filter)
}

// Publish delivers v to every current subscriber.
func (s *Subject[T]) Publish(v T) {
	s.h.publish(v)
}

// Subscribers returns the number of open subscriptions.
func (s *Subject[T]) Subscribers() int {
	return s.h.count()
}

// Replay is a multicast channel that remembers its latest value and delivers
// it to every new subscriber before any later value.
type Replay[T any] struct {
	h hub[T]
}

// NewReplay returns a Replay with no value yet.
func NewReplay[T any]() *Replay[T] {
	return &Replay[T]{h: hub[T]{replay: true}}
}

// NewReplayWith returns a Replay whose latest value is initial.
func NewReplayWith[T any](initial T) *Replay[T] {
	return &Replay[T]{h: hub[T]{replay: true, last: initial, hasLast: true}}
}

// Subscribe registers a subscriber that first receives the latest value, if
// any. The subscription closes when ctx ends.
func (r *Replay[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return r.h.subscribe(ctx, nil)
}

// Publish records v as the latest value and delivers it to every subscriber.
func (r *Replay[T]) Publish(v T) {
	r.h.publish(v)
}

// Update atomically computes the next value from the latest one and
// publishes it, returning the new value. Concurrent Updates are applied in
// some serial order and published in that same order.
func (r *Replay[T]) Update(fn func(T) T) T {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()

	next := fn(r.h.last)
	r.h.last, r.h.hasLast = next, true

	for sub := range r.h.subs {
		sub.push(next)
	}

	return next
}

// Latest returns the latest value and whether one was published.
func (r *Replay[T]) Latest() (T, bool) {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()

	return r.h.last, r.h.hasLast
}

// Subscribers returns the number of open subscriptions.
func (r *Replay[T]) Subscribers() int {
	return r.h.count()
}

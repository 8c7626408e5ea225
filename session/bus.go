package session

import "sync"

// Bus is a typed observer registry for session change and countdown tick
// notifications. New subscribers receive one synchronous replay of the
// current value while subscribing, so late subscribers are never blind to
// current state. Callbacks run outside the registry lock.
type Bus struct {
	mu          sync.Mutex
	nextID      int
	sessionSubs map[int]func(bool)
	tickSubs    map[int]func(int64)

	// last published values, replayed to new subscribers
	hasToken  bool
	remaining int64
}

// NewBus creates an empty bus. The replayed initial state is "no token" and
// a zero countdown.
func NewBus() *Bus {
	return &Bus{
		sessionSubs: make(map[int]func(bool)),
		tickSubs:    make(map[int]func(int64)),
	}
}

// OnSessionChange registers fn and replays the current token presence to it.
// The returned function removes the subscription; calling it more than once
// is safe.
func (b *Bus) OnSessionChange(fn func(hasToken bool)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sessionSubs[id] = fn
	current := b.hasToken
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		delete(b.sessionSubs, id)
		b.mu.Unlock()
	}
}

// OnTick registers fn and replays the current countdown value to it. The
// returned function removes the subscription; calling it more than once is
// safe.
func (b *Bus) OnTick(fn func(remaining int64)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.tickSubs[id] = fn
	current := b.remaining
	b.mu.Unlock()

	fn(current)

	return func() {
		b.mu.Lock()
		delete(b.tickSubs, id)
		b.mu.Unlock()
	}
}

// EmitSessionChange records the new token presence and notifies subscribers.
func (b *Bus) EmitSessionChange(hasToken bool) {
	b.mu.Lock()
	b.hasToken = hasToken
	subs := make([]func(bool), 0, len(b.sessionSubs))
	for _, fn := range b.sessionSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(hasToken)
	}
}

// EmitTick records the new countdown value and notifies subscribers.
func (b *Bus) EmitTick(remaining int64) {
	b.mu.Lock()
	b.remaining = remaining
	subs := make([]func(int64), 0, len(b.tickSubs))
	for _, fn := range b.tickSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(remaining)
	}
}

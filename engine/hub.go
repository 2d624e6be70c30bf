package engine

import "sync"

// Hub is the event dispatch helper shared by Engine implementations. It
// serializes delivery per publisher goroutine and supports deterministic
// unsubscription, so a destroyed session can guarantee it receives nothing
// after cancelling its subscriptions.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]Handler
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns its cancellable subscription.
func (hub *Hub) Subscribe(h Handler) *Subscription {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	id := hub.next
	hub.next++
	hub.subs[id] = h
	return &Subscription{hub: hub, id: id}
}

// Publish delivers ev to every live subscriber. Handlers run without the
// hub lock held, so they may cancel subscriptions.
func (hub *Hub) Publish(ev Event) {
	hub.mu.Lock()
	handlers := make([]Handler, 0, len(hub.subs))
	for _, h := range hub.subs {
		handlers = append(handlers, h)
	}
	hub.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscription is a single registered handler. Cancel removes it; an event
// already being dispatched may still arrive, but nothing after that.
type Subscription struct {
	hub  *Hub
	once sync.Once
	id   int
}

// Cancel removes the subscription from its hub. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dnldd/candlebot/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the number of queued events past which a subscriber drops
	// non-lifecycle events.
	bufferSize = 64
)

// Subscriber is an observer of bot events. Its queue only grows past bufferSize
// for lifecycle events.
type Subscriber struct {
	id      string
	queue   []shared.Event
	dropped int
	mtx     sync.Mutex
	notify  chan struct{}
}

// NewSubscriber initializes a subscriber with the provided id.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{
		id:     id,
		queue:  make([]shared.Event, 0, bufferSize),
		notify: make(chan struct{}, 1),
	}
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string {
	return s.id
}

// Deliver queues the provided event, returning false if it was dropped.
func (s *Subscriber) Deliver(event shared.Event) bool {
	s.mtx.Lock()
	if !event.Kind.Lifecycle() && len(s.queue) >= bufferSize {
		s.dropped++
		s.mtx.Unlock()
		return false
	}
	s.queue = append(s.queue, event)
	s.mtx.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
		// A wakeup is already pending.
	}

	return true
}

// Next blocks until an event is queued or the provided context is done.
func (s *Subscriber) Next(ctx context.Context) (shared.Event, error) {
	for {
		s.mtx.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue[0] = shared.Event{}
			s.queue = s.queue[1:]
			s.mtx.Unlock()
			return event, nil
		}
		s.mtx.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return shared.Event{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscriber) Pending() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return len(s.queue)
}

// Dropped returns the number of events dropped because the subscriber fell behind.
func (s *Subscriber) Dropped() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.dropped
}

// HubConfig represents the hub configuration.
type HubConfig struct {
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HubConfig) Validate() error {
	var errs error

	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Hub groups subscribers into rooms keyed by bot name and fans events out to them.
type Hub struct {
	cfg         *HubConfig
	subscribers map[string]*Subscriber
	rooms       map[string]map[string]struct{}
	mtx         sync.RWMutex
}

// NewHub initializes a new hub.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	return &Hub{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		rooms:       make(map[string]map[string]struct{}),
	}, nil
}

// Register adds the provided subscriber to the hub.
func (h *Hub) Register(sub *Subscriber) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if _, ok := h.subscribers[sub.id]; ok {
		return fmt.Errorf("%w: subscriber %s", shared.ErrAlreadyExists, sub.id)
	}

	h.subscribers[sub.id] = sub
	return nil
}

// Unregister removes the provided subscriber from the hub and all its rooms.
func (h *Hub) Unregister(id string) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	delete(h.subscribers, id)
	for name, room := range h.rooms {
		delete(room, id)
		if len(room) == 0 {
			delete(h.rooms, name)
		}
	}
}

// Join adds the provided subscriber to a room.
func (h *Hub) Join(room string, id string) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if _, ok := h.subscribers[id]; !ok {
		return fmt.Errorf("%w: subscriber %s", shared.ErrNotFound, id)
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}

	return nil
}

// Leave removes the provided subscriber from a room.
func (h *Hub) Leave(room string, id string) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}

	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the sorted ids of a room's subscribers, or of every subscriber when
// no room is provided.
func (h *Hub) Members(room string) []string {
	h.mtx.RLock()
	defer h.mtx.RUnlock()

	var ids []string
	switch room {
	case "":
		ids = make([]string, 0, len(h.subscribers))
		for id := range h.subscribers {
			ids = append(ids, id)
		}
	default:
		members := h.rooms[room]
		ids = make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids
}

// IsMember returns whether the provided subscriber is in a room.
func (h *Hub) IsMember(room string, id string) bool {
	h.mtx.RLock()
	defer h.mtx.RUnlock()

	_, ok := h.rooms[room][id]
	return ok
}

// Broadcast relays the provided event to every subscriber of a room. Subscribers
// that fell behind drop progress, transaction and strategy events instead of blocking
// the sender; lifecycle events always get queued.
func (h *Hub) Broadcast(room string, event shared.Event) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()

	for id := range h.rooms[room] {
		sub, ok := h.subscribers[id]
		if !ok {
			continue
		}

		if !sub.Deliver(event) {
			h.cfg.Logger.Error().Msgf("subscriber %s event queue at capacity: %d, "+
				"dropped %s event", id, bufferSize, event.Kind)
		}
	}
}

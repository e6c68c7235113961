// Package events carries mission and vehicle updates to user interfaces.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type Type string

const (
	MISSION_STARTED        Type = "mission-started"
	MISSION_STOPPED        Type = "mission-stopped"
	MISSION_COMPLETED      Type = "mission-completed"
	VEHICLE_STATUS_CHANGED Type = "vehicle-status-changed"
	MISSION_ERROR          Type = "mission-error"
)

type Event struct {
	Type        Type          `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	MissionID   string        `json:"mission_id,omitempty"`
	MissionType string        `json:"mission_type,omitempty"`
	VehicleID   string        `json:"vehicle_id,omitempty"`
	Status      string        `json:"status,omitempty"`
	Results     types.Results `json:"results,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Publisher is what the mission core needs from the bus.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to subscribers. Each subscriber has its own buffered
// channel; a subscriber that falls behind loses events instead of blocking
// the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	log    *logging.Logger
}

func NewBus(log *logging.Logger) *Bus {
	return &Bus{subs: make(map[int]chan Event), log: log}
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		busLen := len(ch)
		if busLen > cap(ch)/2 {
			b.log.Warnf("Subscriber %d over 50%% [ %d / %d ]", id, busLen, cap(ch))
		}
		select {
		case ch <- e:
		default:
			b.log.Warn("Event dropped", slog.Int("subscriber", id), slog.String("type", string(e.Type)))
		}
	}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, found := b.subs[id]; found {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Run calls fn for each event until ctx is done or the subscription ends.
func Run(ctx context.Context, ch <-chan Event, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fn(e)
		}
	}
}

// Package eventbus fans orchestrator events out to in-process subscribers
// and, through the Hub, to websocket clients.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an orchestrator event.
type Type string

const (
	// TypeTaskStatusChanged fires on every task lifecycle transition.
	TypeTaskStatusChanged Type = "task_status_changed"
	// TypeAgentSpawned fires when a session starts for a task.
	TypeAgentSpawned Type = "agent_spawned"
	// TypeAgentSpawnFailed fires when provisioning or session start fails.
	TypeAgentSpawnFailed Type = "agent_spawn_failed"
	// TypeTaskCompleted fires when completion detection reaps a task.
	TypeTaskCompleted Type = "task_completed"
	// TypeTaskMerged fires when a branch reaches trunk.
	TypeTaskMerged Type = "task_merged"
	// TypeMergeFailed fires when a merge aborts and leaves trunk unchanged.
	TypeMergeFailed Type = "merge_failed"
	// TypeOrchestratorStarted fires when the scheduler loop starts.
	TypeOrchestratorStarted Type = "orchestrator_started"
	// TypeOrchestratorStopped fires when the scheduler loop stops.
	TypeOrchestratorStopped Type = "orchestrator_stopped"
	// TypeCoordinationUpdate carries agent registration and todo changes.
	TypeCoordinationUpdate Type = "coordination_update"
	// TypeFileLocksUpdate carries the current file lock table.
	TypeFileLocksUpdate Type = "file_locks_update"
	// TypePlanGenerated fires when the planner writes new tasks.
	TypePlanGenerated Type = "plan_generated"
	// TypeProjectReset fires after a project reset tears state down.
	TypeProjectReset Type = "project_reset"
)

// Event is one published occurrence.
type Event struct {
	Type      Type           `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Subscription receives events published after it was created.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the subscription's receive channel. It is closed when
// the subscription or the bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were lost because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus is an in-process publish/subscribe fan-out. Publishing never
// blocks: a subscriber whose buffer is full loses the newest events, and
// the loss is counted on the subscription.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the default buffer.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffer(DefaultBuffer)
}

// SubscribeBuffer registers a subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffer(size int) *Subscription {
	if size < 1 {
		size = 1
	}
	sub := &Subscription{bus: b, ch: make(chan Event, size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Publish delivers the event to every subscriber. Each subscriber sees
// events in publish order; none of them can block the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Emit publishes an event of the given type with a fresh timestamp.
func (b *Bus) Emit(t Type, projectID string, data map[string]any) {
	b.Publish(Event{
		Type:      t,
		ProjectID: projectID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	// Channels close outside the lock; a concurrent Subscription.Close
	// re-enters the bus through remove.
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

package chat

import (
	"sync"
)

// roomDispatcher fans out change signals per room. A subscriber's channel
// holds at most one pending signal; since every signal triggers a full
// re-read, extra signals are coalesced.
type roomDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan struct{}
	nextID      int64
}

func newRoomDispatcher() *roomDispatcher {
	return &roomDispatcher{
		subscribers: make(map[string]map[int64]chan struct{}),
	}
}

func (d *roomDispatcher) subscribe(roomCode string) (int64, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	signal := make(chan struct{}, 1)
	if _, ok := d.subscribers[roomCode]; !ok {
		d.subscribers[roomCode] = make(map[int64]chan struct{})
	}
	d.subscribers[roomCode][id] = signal
	return id, signal
}

func (d *roomDispatcher) unsubscribe(roomCode string, id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[roomCode]
	if subscribers == nil {
		return false
	}
	if _, ok := subscribers[id]; !ok {
		return false
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(d.subscribers, roomCode)
	}
	return true
}

func (d *roomDispatcher) publish(roomCode string) {
	d.mu.RLock()
	subscribers := d.subscribers[roomCode]
	copies := make([]chan struct{}, 0, len(subscribers))
	for _, signal := range subscribers {
		copies = append(copies, signal)
	}
	d.mu.RUnlock()
	for _, signal := range copies {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
}

func (d *roomDispatcher) count(roomCode string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[roomCode])
}

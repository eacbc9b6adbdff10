package chat

import "sync"

// Alert describes a message that arrived from someone else.
type Alert struct {
	RoomCode   string
	MessageID  string
	SenderName string
	Text       string
}

// Notifier turns successive room snapshots into alerts. The first snapshot
// only primes the seen set.
type Notifier struct {
	selfUserID string

	mu     sync.Mutex
	primed bool
	seen   map[string]struct{}
}

func NewNotifier(selfUserID string) *Notifier {
	return &Notifier{
		selfUserID: selfUserID,
		seen:       make(map[string]struct{}),
	}
}

// Observe records the snapshot and returns alerts for new messages sent by
// other users, in snapshot order.
func (n *Notifier) Observe(messages []Message) []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	var alerts []Alert
	for _, message := range messages {
		if _, ok := n.seen[message.MessageID]; ok {
			continue
		}
		n.seen[message.MessageID] = struct{}{}
		if !n.primed || message.SenderID == n.selfUserID {
			continue
		}
		alerts = append(alerts, Alert{
			RoomCode:   message.RoomCode,
			MessageID:  message.MessageID,
			SenderName: message.SenderName,
			Text:       message.Text,
		})
	}
	n.primed = true
	return alerts
}

package push

import (
	"sync"

	"github.com/kiwari-pos/alert-console/internal/card"
	"github.com/kiwari-pos/alert-console/internal/ws"
	log "github.com/sirupsen/logrus"
)

// Broadcaster sends events to the tabs watching a bucket.
// Satisfied by *ws.Hub; narrow interface for testability.
type Broadcaster interface {
	BroadcastToBucket(bucket string, event ws.Event)
}

// Notifier publishes notifications to operator tabs. Only the latest
// notification per bucket and tag is kept, and it is replayed to tabs that
// connect afterwards.
type Notifier struct {
	hub Broadcaster

	mu     sync.Mutex
	latest map[string]map[string]Notification // bucket -> tag -> notification
}

func NewNotifier(hub Broadcaster) *Notifier {
	return &Notifier{hub: hub, latest: make(map[string]map[string]Notification)}
}

// Notify delivers n to the tabs watching bucket.
func (n *Notifier) Notify(bucket string, note Notification) error {
	ev, err := ws.NewEvent(ws.EventNotification, note)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if n.latest[bucket] == nil {
		n.latest[bucket] = make(map[string]Notification)
	}
	n.latest[bucket][note.Tag] = note
	n.mu.Unlock()

	n.hub.BroadcastToBucket(bucket, ev)
	return nil
}

// NotifyArrivals pushes one notification per newly arrived card.
// Failures are logged and dropped.
func (n *Notifier) NotifyArrivals(cards []card.Card) {
	for _, c := range cards {
		if err := n.Notify(c.Bucket(), FromCard(c)); err != nil {
			log.WithError(err).WithField("key", c.Key().String()).Warn("push notification failed")
		}
	}
}

// Clear forgets the latest notifications of the given buckets, for example
// once their badges have been reset.
func (n *Notifier) Clear(buckets ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range buckets {
		delete(n.latest, b)
	}
}

// Greet returns the notification events to replay to a tab watching buckets.
func (n *Notifier) Greet(buckets []string) []ws.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	var events []ws.Event
	for _, b := range buckets {
		for _, note := range n.latest[b] {
			ev, err := ws.NewEvent(ws.EventNotification, note)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events
}

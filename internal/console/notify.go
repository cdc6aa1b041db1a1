package console

import (
	"sync"
	"time"

	"github.com/kalambet/opconsole/internal/backend"
)

const maxNotifications = 50

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a discrete, non-blocking message about an operator action.
type Notification struct {
	ID      int64        `json:"id"`
	Level   Level        `json:"level"`
	Action  string       `json:"action"`
	Message string       `json:"message"`
	Kind    backend.Kind `json:"kind,omitempty"`
	Status  int          `json:"status,omitempty"`
	At      time.Time    `json:"at"`
}

// notifications keeps the most recent notifications.
type notifications struct {
	mu   sync.Mutex
	next int64
	list []Notification
}

func (n *notifications) add(level Level, action, msg string, err error) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	note := Notification{
		ID:      n.next,
		Level:   level,
		Action:  action,
		Message: msg,
		Kind:    backend.KindOf(err),
		Status:  backend.StatusOf(err),
		At:      time.Now(),
	}
	n.list = append(n.list, note)
	if len(n.list) > maxNotifications {
		n.list = n.list[len(n.list)-maxNotifications:]
	}
	return note
}

// since returns notifications with an id greater than after, oldest first.
func (n *notifications) since(after int64) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, note := range n.list {
		if note.ID > after {
			out = append(out, note)
		}
	}
	return out
}

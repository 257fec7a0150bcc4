package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/config"
)

// Recorder is what services depend on to note something happened.
// Recording never fails the caller's operation.
type Recorder interface {
	Record(ctx context.Context, typ, key, actorID string, data any)
}

// Publisher forwards an event to an external broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Log writes to the event repo and then to the optional publisher.
type Log struct {
	repo *EventRepo
	pub  Publisher
	now  func() time.Time
}

func NewLog(repo *EventRepo, pub Publisher) *Log {
	return &Log{repo: repo, pub: pub, now: time.Now}
}

func (l *Log) Record(ctx context.Context, typ, key, actorID string, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		buf = []byte("{}")
	}
	e := Event{Type: typ, Key: key, ActorID: actorID, DataJSON: string(buf), CreatedAt: l.now().UTC()}
	log := config.Log(ctx).WithFields(logrus.Fields{"event": typ, "key": key})
	if err := l.repo.Append(ctx, e); err != nil {
		log.WithError(err).Warn("event append failed")
	}
	if l.pub == nil {
		return
	}
	if err := l.pub.Publish(ctx, e); err != nil {
		log.WithError(err).Warn("event publish failed")
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string, any) {}

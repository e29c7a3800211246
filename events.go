package encprofile

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	TopicProfileCreated      = "profile:created"
	TopicProfileUpdated      = "profile:updated"
	TopicAnalyticsUpdated    = "analytics:updated"
	TopicInsightsGenerated   = "insights:generated"
	TopicAnalystAuthorized   = "analyst:authorized"
	TopicAnalystRevoked      = "analyst:revoked"
	TopicDecryptionRequested = "decryption:requested"
	TopicProfileDecrypted    = "profile:decrypted"
)

// Notification is the payload of every subject-level topic.
type Notification struct {
	Subject common.Address
	At      time.Time
}

type DecryptionRequested struct {
	Notification
	RequestID RequestID
	Requester common.Address
}

type ProfileDecrypted struct {
	Notification
	RequestID RequestID
	Values    ProfileValues
}

// Events publishes vault notifications on an in-process bus.
type Events struct {
	bus    EventBus.Bus
	logger *zap.Logger
}

func NewEvents(logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{bus: EventBus.New(), logger: logger.With(zap.String("component", "events"))}
}

// Subscribe registers fn for topic. fn receives the payload type of the
// topic: Notification, DecryptionRequested or ProfileDecrypted.
func (e *Events) Subscribe(topic string, fn interface{}) error {
	return e.bus.Subscribe(topic, fn)
}

func (e *Events) SubscribeAsync(topic string, fn interface{}) error {
	return e.bus.SubscribeAsync(topic, fn, false)
}

func (e *Events) Unsubscribe(topic string, fn interface{}) error {
	return e.bus.Unsubscribe(topic, fn)
}

// WaitAsync blocks until asynchronous handlers finished.
func (e *Events) WaitAsync() {
	e.bus.WaitAsync()
}

func (e *Events) publish(topic string, payload interface{}) {
	if e == nil {
		return
	}
	e.logger.Debug("publish", zap.String("topic", topic))
	e.bus.Publish(topic, payload)
}

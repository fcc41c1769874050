package eventbus

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event is the envelope delivered to handlers. The event name is the
// CloudEvent type and the payload is its JSON data.
type Event = cloudevents.Event

// NewEvent builds a CloudEvent for name with payload as JSON data.
func NewEvent(name, source string, payload any) (Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(name)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if payload != nil {
		if err := event.SetData(cloudevents.ApplicationJSON, payload); err != nil {
			return event, err
		}
	}
	return event, nil
}

// newEventID uses UUIDv7 so ids sort by creation time.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

package nbserver

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventRecvError    EventType = "recv_error"
	EventSentError    EventType = "sent_error"
	EventDropped      EventType = "dropped"
)

// Event describes a connection lifecycle change reported by the application.
type Event struct {
	Id        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Type      EventType              `json:"type"`
	Handle    int                    `json:"handle"`
	MetaData  map[string]interface{} `json:"metaData,omitempty"`
	Msg       string                 `json:"msg,omitempty"`
}

func newEvent(eventType EventType, h Handle, msg string) *Event {
	now := time.Now()
	return &Event{
		Id:        strconv.Itoa(int(h)) + "-" + strconv.FormatInt(now.UnixNano(), 36),
		Timestamp: now.UnixMilli(),
		Type:      eventType,
		Handle:    int(h),
		Msg:       msg,
	}
}

func (e *Event) Key() string {
	return strconv.Itoa(e.Handle)
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

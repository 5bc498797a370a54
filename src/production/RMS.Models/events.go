package rmsmodels

// Live subscriber protocol message types.
const (
	ClientMsgSubscribe   = "subscribe"
	ClientMsgUnsubscribe = "unsubscribe"
	ClientMsgPing        = "ping"

	ServerMsgConnected    = "connected"
	ServerMsgSubscribed   = "subscribed"
	ServerMsgUnsubscribed = "unsubscribed"
	ServerMsgPong         = "pong"
	ServerMsgSensorData   = "sensor-data"
)

// SubscriptionFilter narrows the events a live subscriber receives. A zero
// filter matches every event.
type SubscriptionFilter struct {
	DeviceID   string `json:"device_id,omitempty"`
	SensorType string `json:"sensor_type,omitempty"`
}

// Matches reports whether an enriched reading passes the filter.
func (f SubscriptionFilter) Matches(r EnrichedReading) bool {
	if f.DeviceID != "" && f.DeviceID != r.DeviceID {
		return false
	}
	if f.SensorType != "" && !r.Sensors.Has(f.SensorType) {
		return false
	}
	return true
}

// ClientMessage is a message received from a live subscriber.
type ClientMessage struct {
	Type    string             `json:"type"`
	Filters SubscriptionFilter `json:"filters,omitempty"`
}

// ServerMessage is a message pushed to a live subscriber.
type ServerMessage struct {
	Type    string              `json:"type"`
	Data    *EnrichedReading    `json:"data,omitempty"`
	Filters *SubscriptionFilter `json:"filters,omitempty"`
	Message string              `json:"message,omitempty"`
}

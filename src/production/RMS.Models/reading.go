package rmsmodels

import (
	"time"
)

// Processing status values carried by EnrichedReading.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Sensor kind names as they appear on the wire and in metric labels.
const (
	KindLD2410 = "ld2410"
	KindPIR    = "pir"
	KindMQ134  = "mq134"
)

// LD2410Data is a reading from the LD2410 mmWave presence radar.
type LD2410Data struct {
	Presence bool    `bson:"presence" json:"presence" msgpack:"presence"`
	Distance float64 `bson:"distance" json:"distance" msgpack:"distance"`
	Energy   float64 `bson:"energy" json:"energy" msgpack:"energy"`
}

// PIRData is a reading from a PIR motion sensor.
type PIRData struct {
	MotionDetected bool `bson:"motion_detected" json:"motion_detected" msgpack:"motion_detected"`
}

// MQ134Data is a reading from an MQ-134 gas sensor.
type MQ134Data struct {
	GasConcentration float64 `bson:"gas_concentration" json:"gas_concentration" msgpack:"gas_concentration"`
	Unit             string  `bson:"unit" json:"unit" msgpack:"unit"`
}

// SensorSet holds the per-kind payloads of one reading. Each field is
// optional; decoding strips sensor kinds the pipeline does not know about.
type SensorSet struct {
	LD2410 *LD2410Data `bson:"ld2410,omitempty" json:"ld2410,omitempty" msgpack:"ld2410,omitempty"`
	PIR    *PIRData    `bson:"pir,omitempty" json:"pir,omitempty" msgpack:"pir,omitempty"`
	MQ134  *MQ134Data  `bson:"mq134,omitempty" json:"mq134,omitempty" msgpack:"mq134,omitempty"`
}

// Kinds returns the names of the sensor kinds present in the set.
func (s SensorSet) Kinds() []string {
	kinds := make([]string, 0, 3)
	if s.LD2410 != nil {
		kinds = append(kinds, KindLD2410)
	}
	if s.PIR != nil {
		kinds = append(kinds, KindPIR)
	}
	if s.MQ134 != nil {
		kinds = append(kinds, KindMQ134)
	}
	return kinds
}

// Has reports whether the named sensor kind is present in the set.
func (s SensorSet) Has(kind string) bool {
	switch kind {
	case KindLD2410:
		return s.LD2410 != nil
	case KindPIR:
		return s.PIR != nil
	case KindMQ134:
		return s.MQ134 != nil
	default:
		return false
	}
}

// IsEmpty reports whether no known sensor kind is present.
func (s SensorSet) IsEmpty() bool {
	return s.LD2410 == nil && s.PIR == nil && s.MQ134 == nil
}

// SensorReading is the validated wire payload of one device report.
type SensorReading struct {
	DeviceID  string    `bson:"device_id" json:"device_id" msgpack:"device_id"`
	Timestamp string    `bson:"timestamp" json:"timestamp" msgpack:"timestamp"`
	Sensors   SensorSet `bson:"sensors" json:"sensors" msgpack:"sensors"`
}

// DeviceMetadata is the registry-owned context attached to enriched
// readings. The pipeline caches it; the device registry is the source of
// truth.
type DeviceMetadata struct {
	Location        string `bson:"location,omitempty" json:"location,omitempty" msgpack:"location,omitempty"`
	Room            string `bson:"room,omitempty" json:"room,omitempty" msgpack:"room,omitempty"`
	Zone            string `bson:"zone,omitempty" json:"zone,omitempty" msgpack:"zone,omitempty"`
	FirmwareVersion string `bson:"firmware_version,omitempty" json:"firmware_version,omitempty" msgpack:"firmware_version,omitempty"`
}

// EnrichedReading is a SensorReading after dedup, timestamp normalization
// and metadata enrichment.
type EnrichedReading struct {
	SensorReading    `bson:",inline" msgpack:",inline"`
	ReceivedAt       time.Time       `bson:"received_at" json:"received_at" msgpack:"received_at"`
	ProcessingStatus string          `bson:"processing_status" json:"processing_status" msgpack:"processing_status"`
	DeviceMetadata   *DeviceMetadata `bson:"device_metadata,omitempty" json:"device_metadata,omitempty" msgpack:"device_metadata,omitempty"`
}

package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
)

// deviceIDPattern is the device identifier allowlist: alphanumerics,
// hyphens, and underscores only.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrDecode marks payloads that are not parseable JSON at all. Decode
// failures are reported separately from schema violations because they are
// counted under a different error type.
var ErrDecode = errors.New("payload is not valid JSON")

// ValidationError reports every violated field of a payload, not just the
// first, so one bad payload yields a single diagnostic event.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// Validate schema-checks a raw inbound payload and returns the typed
// reading. Unknown top-level fields and unknown sensor kinds are stripped,
// not rejected. Side-effect-free.
func Validate(raw []byte) (*rmsmodels.SensorReading, error) {
	var reading rmsmodels.SensorReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var fields []string

	if reading.DeviceID == "" {
		fields = append(fields, "device_id is required")
	} else if !deviceIDPattern.MatchString(reading.DeviceID) {
		fields = append(fields, fmt.Sprintf("device_id %q contains invalid characters (allowed: A-Z a-z 0-9 _ -)", reading.DeviceID))
	}

	if reading.Timestamp == "" {
		fields = append(fields, "timestamp is required")
	} else if !parseableTimestamp(reading.Timestamp) {
		fields = append(fields, fmt.Sprintf("timestamp %q is not a valid ISO-8601 instant", reading.Timestamp))
	}

	if reading.Sensors.IsEmpty() {
		fields = append(fields, "sensors must contain at least one of ld2410, pir, mq134")
	}

	fields = append(fields, validateLD2410(reading.Sensors.LD2410)...)
	fields = append(fields, validateMQ134(reading.Sensors.MQ134)...)
	// pir carries a single bool; there is nothing beyond type shape to check.

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	return &reading, nil
}

func validateLD2410(d *rmsmodels.LD2410Data) []string {
	if d == nil {
		return nil
	}
	var fields []string
	if d.Distance < 0 || d.Distance > 600 {
		fields = append(fields, fmt.Sprintf("ld2410.distance %v is outside [0, 600]", d.Distance))
	}
	if d.Energy < 0 || d.Energy > 100 {
		fields = append(fields, fmt.Sprintf("ld2410.energy %v is outside [0, 100]", d.Energy))
	}
	return fields
}

func validateMQ134(d *rmsmodels.MQ134Data) []string {
	if d == nil {
		return nil
	}
	var fields []string
	if d.GasConcentration < 0 {
		fields = append(fields, fmt.Sprintf("mq134.gas_concentration %v must be non-negative", d.GasConcentration))
	}
	if d.Unit != "ppm" && d.Unit != "ppb" {
		fields = append(fields, fmt.Sprintf("mq134.unit %q must be ppm or ppb", d.Unit))
	}
	return fields
}

func parseableTimestamp(ts string) bool {
	if _, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, ts)
	return err == nil
}

package processor

import (
	"sync"
	"time"

	config "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Config"
	logger "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Logger"
	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
)

// Processor deduplicates readings, normalizes timestamps, and enriches them
// with cached device metadata. Both caches are process-local; a multi-instance
// deployment has per-instance dedup windows.
type Processor struct {
	cfg    config.DedupConfig
	logger *logger.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	seenKeys []string // insertion order, oldest first; drives compaction

	metaMu   sync.RWMutex
	metadata map[string]rmsmodels.DeviceMetadata
}

// New creates a Processor with the given dedup window tunables.
func New(cfg config.DedupConfig, log *logger.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		logger:   log.WithComponent("processor"),
		seen:     make(map[string]struct{}),
		metadata: make(map[string]rmsmodels.DeviceMetadata),
	}
}

// Process runs the composed pipeline: dedup check, timestamp normalization,
// metadata enrichment. Returns nil for duplicates; the caller must treat
// nil as a silent drop, not an error.
func (p *Processor) Process(reading rmsmodels.SensorReading) *rmsmodels.EnrichedReading {
	reading.Timestamp = p.NormalizeTimestamp(reading.Timestamp)

	if p.IsDuplicate(reading) {
		p.logger.Logger.Debug().
			Str("device_id", reading.DeviceID).
			Str("timestamp", reading.Timestamp).
			Msg("Duplicate reading dropped")
		return nil
	}

	enriched := p.EnrichWithMetadata(reading)
	enriched.ReceivedAt = time.Now().UTC()
	enriched.ProcessingStatus = rmsmodels.StatusPending
	return &enriched
}

// IsDuplicate checks and records the reading's dedup key. The key is
// device_id + "|" + timestamp, post-normalization. The window is
// approximate: once the set exceeds the high-water mark it is compacted to
// the most recent entries, so false negatives are possible after
// compaction; false positives are not.
func (p *Processor) IsDuplicate(reading rmsmodels.SensorReading) bool {
	key := reading.DeviceID + "|" + reading.Timestamp

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[key]; ok {
		return true
	}

	p.seen[key] = struct{}{}
	p.seenKeys = append(p.seenKeys, key)

	if len(p.seen) > p.cfg.HighWaterMark {
		p.compactLocked()
	}
	return false
}

// compactLocked retains only the most recent RetainOnSweep keys. Caller
// holds p.mu.
func (p *Processor) compactLocked() {
	keep := p.seenKeys[len(p.seenKeys)-p.cfg.RetainOnSweep:]
	seen := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		seen[k] = struct{}{}
	}
	p.seen = seen
	p.seenKeys = append([]string(nil), keep...)
	p.logger.Logger.Info().
		Int("retained", len(keep)).
		Msg("Dedup window compacted")
}

// NormalizeTimestamp canonicalizes a device-reported timestamp to UTC
// RFC3339Nano. On parse failure it substitutes the current wall-clock time
// and warns instead of rejecting, so a device with a broken clock still
// gets its data through.
func (p *Processor) NormalizeTimestamp(ts string) string {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, ts)
	}
	if err != nil {
		p.logger.Logger.Warn().
			Str("timestamp", ts).
			Msg("Unparseable timestamp, substituting receive time")
		parsed = time.Now()
	}
	return parsed.UTC().Format(time.RFC3339Nano)
}

// EnrichWithMetadata attaches cached device metadata when present. Absence
// of metadata is not an error; the field is simply omitted.
func (p *Processor) EnrichWithMetadata(reading rmsmodels.SensorReading) rmsmodels.EnrichedReading {
	enriched := rmsmodels.EnrichedReading{SensorReading: reading}

	p.metaMu.RLock()
	md, ok := p.metadata[reading.DeviceID]
	p.metaMu.RUnlock()

	if ok {
		enriched.DeviceMetadata = &md
	}
	return enriched
}

// UpdateDeviceMetadata refreshes the metadata cache for one device. The
// device registry pushes updates here; last write wins, no versioning.
func (p *Processor) UpdateDeviceMetadata(deviceID string, md rmsmodels.DeviceMetadata) {
	p.metaMu.Lock()
	p.metadata[deviceID] = md
	p.metaMu.Unlock()

	p.logger.Logger.Info().
		Str("device_id", deviceID).
		Str("room", md.Room).
		Msg("Device metadata updated")
}

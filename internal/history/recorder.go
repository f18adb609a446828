// Package history is an optional InfluxDB audit sink: a passive mirror of
// every AlarmStateTransition and InterruptionEvent. Nothing in the
// execution pipeline depends on it.
package history

import (
	"fmt"
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/lumirise/lumirise/internal/alarm"
	"github.com/lumirise/lumirise/internal/dimmer"
	"github.com/lumirise/lumirise/pkg/dedup"
)

const (
	dedupTTL = 10 * time.Minute
	dedupMax = 10000
)

// Recorder mirrors alarm and dimmer events into InfluxDB points. A Recorder
// built with a nil api.WriteAPI is a no-op on every method, so it can be
// wired in unconditionally and only becomes active when InfluxDB is
// actually configured.
type Recorder struct {
	writeAPI api.WriteAPI
	dedup    *dedup.Deduper

	mu      sync.RWMutex
	lastErr time.Time
}

// NewRecorder wraps writeAPI. Pass nil to disable recording entirely.
func NewRecorder(writeAPI api.WriteAPI) *Recorder {
	r := &Recorder{
		writeAPI: writeAPI,
		dedup:    dedup.New(dedupTTL, dedupMax),
		lastErr:  time.Now().Add(-24 * time.Hour),
	}
	if writeAPI != nil {
		go r.watchErrors(writeAPI)
	}
	return r
}

func (r *Recorder) watchErrors(writeAPI api.WriteAPI) {
	for err := range writeAPI.Errors() {
		if err == nil {
			continue
		}
		r.mu.Lock()
		r.lastErr = time.Now()
		r.mu.Unlock()
		log.Printf("history: influx write error: %v", err)
	}
}

// LastErrorAge reports how long it has been since the last write error, for
// use in a health check. An unconfigured Recorder reports a large age.
func (r *Recorder) LastErrorAge() time.Duration {
	if r == nil || r.writeAPI == nil {
		return 99999 * time.Hour
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.lastErr)
}

// RecordTransition mirrors one alarm.Transition as an InfluxDB point.
// Redelivery of the same transition (same alarm, trigger, timestamp) is
// deduplicated.
func (r *Recorder) RecordTransition(t alarm.Transition) {
	if r == nil || r.writeAPI == nil {
		return
	}
	key := fmt.Sprintf("transition:%s:%s:%d", t.AlarmID, t.Trigger, t.TimestampUTC.UnixNano())
	if !r.dedup.ShouldProcess(key) {
		return
	}

	tags := map[string]string{
		"alarm_id":       t.AlarmID.String(),
		"previous_state": t.PreviousState.String(),
		"new_state":      t.NewState.String(),
		"trigger":        t.Trigger.String(),
	}
	fields := map[string]interface{}{
		"message": t.Message,
		"count":   int64(1),
	}
	r.writeAPI.WritePoint(influxdb2.NewPoint("alarm_state_transition", tags, fields, t.TimestampUTC))
}

// RecordInterruption mirrors one dimmer.InterruptionEvent as an InfluxDB
// point.
func (r *Recorder) RecordInterruption(evt dimmer.InterruptionEvent) {
	if r == nil || r.writeAPI == nil {
		return
	}
	key := fmt.Sprintf("interruption:%s:%d", evt.Reason, evt.DetectedAtUTC.UnixNano())
	if !r.dedup.ShouldProcess(key) {
		return
	}

	tags := map[string]string{"reason": evt.Reason.String()}
	fields := map[string]interface{}{
		"message": evt.Message,
		"count":   int64(1),
	}
	if evt.Expected != nil {
		fields["expected_on"] = evt.Expected.IsOn
		fields["expected_brightness"] = int64(evt.Expected.BrightnessPercent)
	}
	if evt.Actual != nil {
		fields["actual_on"] = evt.Actual.IsOn
		fields["actual_brightness"] = int64(evt.Actual.BrightnessPercent)
	}
	r.writeAPI.WritePoint(influxdb2.NewPoint("dimmer_interruption", tags, fields, evt.DetectedAtUTC))
}

package history

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lumirise/lumirise/internal/alarm"
	"github.com/lumirise/lumirise/internal/dimmer"
)

// fakeWriteAPI implements api.WriteAPI, recording every point written.
type fakeWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
	errCh  chan error
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errCh: make(chan error, 1)}
}

func (f *fakeWriteAPI) WriteRecord(string) {}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Flush() {}

func (f *fakeWriteAPI) Errors() <-chan error { return f.errCh }

func (f *fakeWriteAPI) SetWriteFailedCallback(api.WriteFailedCallback) {}

func (f *fakeWriteAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func TestRecorderNilIsNoOp(t *testing.T) {
	var r *Recorder
	r.RecordTransition(alarm.Transition{})
	r.RecordInterruption(dimmer.InterruptionEvent{})
	if got := r.LastErrorAge(); got < 99999*time.Hour {
		t.Fatalf("LastErrorAge on nil Recorder = %v, want a large age", got)
	}
}

func TestRecorderUnconfiguredIsNoOp(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordTransition(alarm.Transition{AlarmID: uuid.New()})
	if got := r.LastErrorAge(); got < 99999*time.Hour {
		t.Fatalf("LastErrorAge on unconfigured Recorder = %v, want a large age", got)
	}
}

func TestRecorderWritesTransitionPoint(t *testing.T) {
	api := newFakeWriteAPI()
	r := NewRecorder(api)

	r.RecordTransition(alarm.Transition{
		AlarmID:       uuid.New(),
		PreviousState: alarm.Idle,
		NewState:      alarm.Triggered,
		Trigger:       alarm.SchedulerTrigger,
		TimestampUTC:  time.Now(),
	})

	if api.count() != 1 {
		t.Fatalf("points written = %d, want 1", api.count())
	}
}

func TestRecorderDedupesRepeatedTransition(t *testing.T) {
	api := newFakeWriteAPI()
	r := NewRecorder(api)

	tr := alarm.Transition{
		AlarmID:       uuid.New(),
		PreviousState: alarm.Idle,
		NewState:      alarm.Triggered,
		Trigger:       alarm.SchedulerTrigger,
		TimestampUTC:  time.Now(),
	}
	r.RecordTransition(tr)
	r.RecordTransition(tr)

	if api.count() != 1 {
		t.Fatalf("points written = %d, want 1 (repeat must be deduplicated)", api.count())
	}
}

func TestRecorderWritesInterruptionPoint(t *testing.T) {
	api := newFakeWriteAPI()
	r := NewRecorder(api)

	r.RecordInterruption(dimmer.InterruptionEvent{
		Reason:        dimmer.ManualPowerOff,
		Message:       "observed power off",
		DetectedAtUTC: time.Now(),
	})

	if api.count() != 1 {
		t.Fatalf("points written = %d, want 1", api.count())
	}
}

func TestRecorderLastErrorAgeShrinksAfterWriteError(t *testing.T) {
	api := newFakeWriteAPI()
	r := NewRecorder(api)

	before := r.LastErrorAge()
	api.errCh <- errPlaceholder{}
	time.Sleep(50 * time.Millisecond)
	after := r.LastErrorAge()

	if after >= before {
		t.Fatalf("LastErrorAge after a write error = %v, want less than baseline %v", after, before)
	}
}

type errPlaceholder struct{}

func (errPlaceholder) Error() string { return "simulated write error" }

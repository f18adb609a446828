package dimmer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumirise/lumirise/internal/mqttsup"
)

type publishedMsg struct {
	topic   string
	payload []byte
}

// fakeBroker implements Broker. Only Publish is exercised by Publisher;
// Subscribe/MessageReceived are no-ops kept to satisfy the interface.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
	failNext  error
}

func (b *fakeBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.published = append(b.published, publishedMsg{topic: topic, payload: cp})
	return nil
}

func (b *fakeBroker) Subscribe(string) error { return nil }

func (b *fakeBroker) MessageReceived() (<-chan mqttsup.Message, func()) {
	ch := make(chan mqttsup.Message)
	return ch, func() {}
}

func (b *fakeBroker) snapshot() []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishedMsg, len(b.published))
	copy(out, b.published)
	return out
}

func testConfig() Config {
	return Config{
		Topics:                   DefaultTopics(),
		MinimumBrightnessPercent: 20,
		RampStepDelay:            5 * time.Millisecond,
	}
}

func TestPublisherTurnOnTurnOff(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(testConfig(), broker)

	if err := p.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if err := p.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}

	msgs := broker.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d publishes, want 2", len(msgs))
	}
	wantPowerPayload(t, msgs[0], DefaultTopics().PowerCommand, "ON")
	wantPowerPayload(t, msgs[1], DefaultTopics().PowerCommand, "OFF")
}

func wantPowerPayload(t *testing.T, msg publishedMsg, topic, power string) {
	t.Helper()
	if msg.topic != topic {
		t.Fatalf("topic = %s, want %s", msg.topic, topic)
	}
	var p powerPayload
	if err := json.Unmarshal(msg.payload, &p); err != nil {
		t.Fatalf("unmarshal payload %q: %v", msg.payload, err)
	}
	if p.POWER != power {
		t.Fatalf("POWER = %s, want %s", p.POWER, power)
	}
}

// TestPublisherSetBrightnessBelowThreshold is scenario 6: SetBrightness with
// percent < minimum publishes exactly one OFF on the power topic and
// nothing on the brightness topic.
func TestPublisherSetBrightnessBelowThreshold(t *testing.T) {
	broker := &fakeBroker{}
	cfg := testConfig()
	cfg.MinimumBrightnessPercent = 20
	p := NewPublisher(cfg, broker)

	if err := p.SetBrightness(context.Background(), 10); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}

	msgs := broker.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(msgs))
	}
	if msgs[0].topic != cfg.Topics.PowerCommand {
		t.Fatalf("published to %s, want power command topic %s", msgs[0].topic, cfg.Topics.PowerCommand)
	}
	wantPowerPayload(t, msgs[0], cfg.Topics.PowerCommand, "OFF")
}

func TestPublisherSetBrightnessAtOrAboveThreshold(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(testConfig(), broker)

	if err := p.SetBrightness(context.Background(), 20); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	msgs := broker.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(msgs))
	}
	if msgs[0].topic != DefaultTopics().BrightnessCommand {
		t.Fatalf("topic = %s, want brightness command topic", msgs[0].topic)
	}
	if string(msgs[0].payload) != "20" {
		t.Fatalf("payload = %q, want \"20\"", msgs[0].payload)
	}
}

func TestPublisherSetBrightnessInvalidArgument(t *testing.T) {
	p := NewPublisher(testConfig(), &fakeBroker{})
	if err := p.SetBrightness(context.Background(), 101); err == nil {
		t.Fatal("SetBrightness(101): expected error, got nil")
	}
	if err := p.SetBrightness(context.Background(), -1); err == nil {
		t.Fatal("SetBrightness(-1): expected error, got nil")
	}
}

// TestPublisherRampBrightnessEndsAtTarget is scenario 1: a full ramp on the
// wire publishes ON once, the start brightness once, then a sequence ending
// exactly at target.
func TestPublisherRampBrightnessEndsAtTarget(t *testing.T) {
	broker := &fakeBroker{}
	cfg := testConfig()
	cfg.RampStepDelay = 2 * time.Millisecond
	p := NewPublisher(cfg, broker)

	var progressed []int
	var mu sync.Mutex
	progress := func(v int) {
		mu.Lock()
		progressed = append(progressed, v)
		mu.Unlock()
	}

	if err := p.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if err := p.SetBrightness(context.Background(), 20); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	if err := p.RampBrightness(context.Background(), 20, 100, 20*time.Millisecond, progress); err != nil {
		t.Fatalf("RampBrightness: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progressed) == 0 {
		t.Fatal("expected at least one progress report")
	}
	if progressed[len(progressed)-1] != 100 {
		t.Fatalf("last progress = %d, want 100", progressed[len(progressed)-1])
	}
	for i := 1; i < len(progressed); i++ {
		if progressed[i] < progressed[i-1] {
			t.Fatalf("progress not monotonic: %v", progressed)
		}
	}

	msgs := broker.snapshot()
	brightnessMsgs := 0
	for _, m := range msgs {
		if m.topic == cfg.Topics.BrightnessCommand {
			brightnessMsgs++
		}
	}
	if brightnessMsgs == 0 {
		t.Fatal("expected at least one brightness publish during ramp")
	}
	last := msgs[len(msgs)-1]
	if last.topic != cfg.Topics.BrightnessCommand || string(last.payload) != "100" {
		t.Fatalf("last publish = %+v, want brightness command 100", last)
	}
}

func TestPublisherRampBrightnessCancellation(t *testing.T) {
	broker := &fakeBroker{}
	cfg := testConfig()
	cfg.RampStepDelay = 20 * time.Millisecond
	p := NewPublisher(cfg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := p.RampBrightness(ctx, 0, 100, 2*time.Second, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RampBrightness with cancellation = %v, want context.Canceled", err)
	}

	msgs := broker.snapshot()
	for _, m := range msgs {
		if m.topic == cfg.Topics.BrightnessCommand && string(m.payload) == "100" {
			t.Fatal("cancelled ramp should never reach target via the final catch-up publish")
		}
	}
}

func TestPublisherSerializesConcurrentCallers(t *testing.T) {
	broker := &fakeBroker{}
	p := NewPublisher(testConfig(), broker)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = p.SetBrightness(context.Background(), 20+n%5)
		}(i)
	}
	wg.Wait()

	msgs := broker.snapshot()
	if len(msgs) != 10 {
		t.Fatalf("got %d publishes, want 10 (one per caller, FIFO-serialized)", len(msgs))
	}
}

package dimmer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/lumirise/lumirise/internal/errs"
)

type powerPayload struct {
	POWER string `json:"POWER"`
}

// Publisher translates semantic dimmer operations into broker publications.
// Every public operation serializes through a single mutex so concurrent
// callers observe FIFO command order on the wire.
type Publisher struct {
	cfg    Config
	broker Broker

	mu            sync.Mutex
	lastCommanded int
	hasCommanded  bool
}

// NewPublisher returns a Publisher for cfg.
func NewPublisher(cfg Config, broker Broker) *Publisher {
	return &Publisher{cfg: cfg.withDefaults(), broker: broker}
}

// TurnOn publishes {"POWER":"ON"} on the power command topic.
func (p *Publisher) TurnOn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishPowerLocked(ctx, true)
}

// TurnOff publishes {"POWER":"OFF"} on the power command topic.
func (p *Publisher) TurnOff(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishPowerLocked(ctx, false)
}

func (p *Publisher) publishPowerLocked(ctx context.Context, on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	body, err := json.Marshal(powerPayload{POWER: state})
	if err != nil {
		return fmt.Errorf("encode power payload: %w", err)
	}
	if err := p.broker.Publish(ctx, p.cfg.Topics.PowerCommand, body); err != nil {
		return err
	}
	if !on {
		p.lastCommanded = 0
		p.hasCommanded = true
	}
	return nil
}

// SetBrightness publishes percent on the brightness command topic, unless
// percent falls below MinimumBrightnessPercent, in which case TurnOff is
// issued instead and nothing is sent on the brightness topic.
func (p *Publisher) SetBrightness(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("set brightness %d: %w", percent, errs.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setBrightnessLocked(ctx, percent)
}

func (p *Publisher) setBrightnessLocked(ctx context.Context, percent int) error {
	if percent < p.cfg.MinimumBrightnessPercent {
		return p.publishPowerLocked(ctx, false)
	}
	if err := p.broker.Publish(ctx, p.cfg.Topics.BrightnessCommand, []byte(strconv.Itoa(percent))); err != nil {
		return err
	}
	p.lastCommanded = percent
	p.hasCommanded = true
	return nil
}

// RampBrightness executes a linear ramp from start to target over duration
// in N = max(1, ceil(duration/stepDelay)) steps, reporting each sent value
// to progress if non-nil. A step whose value equals the last commanded
// brightness (including one set by an earlier SetBrightness) is not sent
// again. Cancellation is checked at the top of every step
// and during the inter-step sleep; on cancellation the last commanded value
// stands and ctx.Err() propagates. On a clean finish, if the last sent value
// isn't exactly target, one final SetBrightness(target) closes the gap.
func (p *Publisher) RampBrightness(ctx context.Context, start, target int, duration time.Duration, progress func(int)) error {
	if start < 0 || start > 100 {
		return fmt.Errorf("ramp start %d: %w", start, errs.ErrInvalidArgument)
	}
	if target < 0 || target > 100 {
		return fmt.Errorf("ramp target %d: %w", target, errs.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stepDelay := p.cfg.RampStepDelay
	steps := int(math.Ceil(float64(duration) / float64(stepDelay)))
	if steps < 1 {
		steps = 1
	}

	lastSent := -1
	if p.hasCommanded {
		lastSent = p.lastCommanded
	}
	for k := 0; k < steps; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		value := target
		if steps > 1 {
			value = int(math.Round(float64(start) + float64(target-start)*float64(k)/float64(steps-1)))
		}
		value = clampPercent(value)

		if value != lastSent {
			if err := p.broker.Publish(ctx, p.cfg.Topics.BrightnessCommand, []byte(strconv.Itoa(value))); err != nil {
				return err
			}
			p.lastCommanded = value
			p.hasCommanded = true
			lastSent = value
			if progress != nil {
				progress(value)
			}
		}

		if k == steps-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stepDelay):
		}
	}

	if lastSent != target {
		if err := p.setBrightnessLocked(ctx, target); err != nil {
			return err
		}
		if progress != nil {
			progress(target)
		}
	}
	return nil
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

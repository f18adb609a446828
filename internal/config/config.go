// Package config loads the process configuration from environment
// variables: envStr/envInt/envFloat helpers, no config file, no flag
// parsing.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lumirise/lumirise/internal/alarm"
	"github.com/lumirise/lumirise/internal/dimmer"
	"github.com/lumirise/lumirise/internal/mqttsup"
)

// Config is everything cmd/lumirise/main.go needs to construct the
// supervisor, dimmer stack, and (optional) history recorder.
type Config struct {
	MQTT   mqttsup.Config
	Dimmer dimmer.Config
	Alarm  alarm.ServiceConfig

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	HTTPPort      int
	ShutdownGrace time.Duration
}

// Load reads every key from the environment, applying the package defaults
// when a key is unset.
func Load() Config {
	return Config{
		MQTT: mqttsup.Config{
			Server:                  envStr("MQTT_SERVER", "localhost"),
			Port:                    envInt("MQTT_PORT", 1883),
			ClientID:                envStr("MQTT_CLIENT_ID", envStr("HOSTNAME", "lumirise")),
			Username:                os.Getenv("MQTT_USERNAME"),
			Password:                os.Getenv("MQTT_PASSWORD"),
			KeepAlive:               envDuration("MQTT_KEEPALIVE_SECONDS", mqttsup.DefaultKeepAlive, time.Second),
			ReconnectionDelay:       envDuration("MQTT_RECONNECTION_DELAY_MS", mqttsup.DefaultReconnectionDelay, time.Millisecond),
			MaxReconnectionDelay:    envDuration("MQTT_MAX_RECONNECTION_DELAY_MS", mqttsup.DefaultMaxReconnectionDelay, time.Millisecond),
			BackoffMultiplier:       envFloat("MQTT_BACKOFF_MULTIPLIER", mqttsup.DefaultBackoffMultiplier),
			MaxReconnectionAttempts: envInt("MQTT_MAX_RECONNECTION_ATTEMPTS", mqttsup.DefaultMaxReconnectionAttempts),
			CommandTimeout:          envDuration("MQTT_COMMAND_TIMEOUT_MS", mqttsup.DefaultCommandTimeout, time.Millisecond),
			CommandQueueDepth:       envInt("MQTT_COMMAND_QUEUE_DEPTH", mqttsup.DefaultCommandQueueDepth),
		},
		Dimmer: dimmer.Config{
			Topics: dimmer.Topics{
				PowerCommand:      envStr("DIMMER_TOPIC_POWER_COMMAND", dimmer.DefaultTopics().PowerCommand),
				PowerStatus:       envStr("DIMMER_TOPIC_POWER_STATUS", dimmer.DefaultTopics().PowerStatus),
				BrightnessCommand: envStr("DIMMER_TOPIC_BRIGHTNESS_COMMAND", dimmer.DefaultTopics().BrightnessCommand),
				BrightnessStatus:  envStr("DIMMER_TOPIC_BRIGHTNESS_STATUS", dimmer.DefaultTopics().BrightnessStatus),
			},
			MinimumBrightnessPercent: envInt("DIMMER_MINIMUM_BRIGHTNESS_PERCENT", dimmer.DefaultMinimumBrightnessPercent),
			RampStepDelay:            envDuration("DIMMER_RAMP_STEP_DELAY_MS", dimmer.DefaultRampStepDelay, time.Millisecond),
		},
		Alarm: alarm.ServiceConfig{
			StatusConfirmationTimeout: envDuration("MQTT_STATUS_CONFIRMATION_TIMEOUT_MS", alarm.DefaultStatusConfirmationTimeout, time.Millisecond),
		},

		InfluxURL:    envStr("INFLUX_URL", ""),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "lumirise"),
		InfluxBucket: envStr("INFLUX_BUCKET", "lumirise"),

		HTTPPort:      envInt("HTTP_PORT", 8080),
		ShutdownGrace: envDuration("SHUTDOWN_GRACE_SECONDS", 10*time.Second, time.Second),
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envDuration reads an integer environment variable scaled by unit; def is
// returned verbatim (already a time.Duration) when the variable is unset.
func envDuration(key string, def time.Duration, unit time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * unit
		}
	}
	return def
}

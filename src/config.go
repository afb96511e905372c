package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/ryansname/batteryfeed/src/estimate"
)

// Fixed values that are not configurable
const (
	TelemetryTopic    = "enphase/battery"
	InstalledCapacity = 95.0
	ErrValue          = -1.0

	SensorTimeout  = 5 * time.Second
	SensorRetryGap = 1 * time.Second
	ReconnectPause = 5 * time.Second
)

// Config holds the process configuration. It is built once at startup and
// passed by value to the workers.
type Config struct {
	MQTTBroker       string
	MQTTPort         int
	MQTTClientID     string
	SensorHost       string
	AvgInterval      time.Duration
	VRMInterval      time.Duration
	EstimatedCurrent float64
	SOCMode          estimate.ChargeMode
	SensorMaxRetries int
	HADiscovery      bool
	MetricsAddr      string

	// Not read from the environment
	SensorTimeout  time.Duration
	SensorRetryGap time.Duration
	ReconnectPause time.Duration
}

// DefaultConfig returns the configuration used when no overrides are set
func DefaultConfig() Config {
	return Config{
		MQTTBroker:       "venus.local",
		MQTTPort:         1883,
		MQTTClientID:     "P1",
		SensorHost:       "192.168.12.20",
		AvgInterval:      5 * time.Second,
		VRMInterval:      30 * time.Second,
		EstimatedCurrent: 0.014,
		SOCMode:          estimate.ChargingDominant,
		SensorMaxRetries: 3,
		SensorTimeout:    SensorTimeout,
		SensorRetryGap:   SensorRetryGap,
		ReconnectPause:   ReconnectPause,
	}
}

// LoadConfig builds a Config from the defaults overlaid with environment
// variables. lookup is normally os.LookupEnv.
func LoadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup("MQTT_BROKER"); ok && v != "" {
		cfg.MQTTBroker = v
	}
	if v, ok := lookup("MQTT_CLIENT_ID"); ok && v != "" {
		cfg.MQTTClientID = v
	}
	if v, ok := lookup("SENSOR_HOST"); ok && v != "" {
		cfg.SensorHost = v
	}
	if v, ok := lookup("METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}

	var err error
	if cfg.MQTTPort, err = intEnv(lookup, "MQTT_PORT", cfg.MQTTPort); err != nil {
		return Config{}, err
	}
	if cfg.SensorMaxRetries, err = intEnv(lookup, "SENSOR_MAX_RETRIES", cfg.SensorMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.AvgInterval, err = durationEnv(lookup, "AVG_INTERVAL", cfg.AvgInterval); err != nil {
		return Config{}, err
	}
	if cfg.VRMInterval, err = durationEnv(lookup, "VRM_INTERVAL", cfg.VRMInterval); err != nil {
		return Config{}, err
	}
	if cfg.EstimatedCurrent, err = floatEnv(lookup, "ESTIMATED_CURRENT", cfg.EstimatedCurrent); err != nil {
		return Config{}, err
	}
	if v, ok := lookup("HA_DISCOVERY"); ok && v != "" {
		if cfg.HADiscovery, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("HA_DISCOVERY: %w", err)
		}
	}

	mode, err := intEnv(lookup, "SOC_MODE", int(cfg.SOCMode))
	if err != nil {
		return Config{}, err
	}
	if cfg.SOCMode, err = estimate.ParseChargeMode(mode); err != nil {
		return Config{}, fmt.Errorf("SOC_MODE: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that parsing alone does not catch
func (c Config) Validate() error {
	switch {
	case c.AvgInterval <= 0:
		return fmt.Errorf("AVG_INTERVAL must be positive, got %v", c.AvgInterval)
	case c.VRMInterval <= 0:
		return fmt.Errorf("VRM_INTERVAL must be positive, got %v", c.VRMInterval)
	case c.SensorMaxRetries < 1:
		return fmt.Errorf("SENSOR_MAX_RETRIES must be at least 1, got %d", c.SensorMaxRetries)
	case c.MQTTPort < 1 || c.MQTTPort > 65535:
		return fmt.Errorf("MQTT_PORT out of range: %d", c.MQTTPort)
	case !c.SOCMode.Valid():
		return fmt.Errorf("SOC_MODE: unknown charge mode %d", int(c.SOCMode))
	}
	return nil
}

// SensorURL returns the sensor status endpoint
func (c Config) SensorURL() string {
	return fmt.Sprintf("http://%s/status", c.SensorHost)
}

// BrokerURL returns the MQTT broker address in paho form
func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// WarnOnIntervals logs if the publish cadence is too close to the sampling
// cadence for the published average to cover a full window
func (c Config) WarnOnIntervals() {
	if c.VRMInterval < c.AvgInterval*estimate.WindowSize {
		log.Printf("Warning: VRM_INTERVAL (%v) is shorter than %d sampling intervals (%v)\n",
			c.VRMInterval, estimate.WindowSize, c.AvgInterval*estimate.WindowSize)
	}
}

func intEnv(lookup func(string) (string, bool), key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(lookup func(string) (string, bool), key string, def float64) (float64, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// durationEnv accepts a Go duration ("5s") or a bare number of seconds ("5")
func durationEnv(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

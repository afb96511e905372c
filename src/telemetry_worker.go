package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ryansname/batteryfeed/src/estimate"
)

// DcTelemetry is the DC section of the telemetry record
type DcTelemetry struct {
	Power       float64 `json:"Power"`
	Voltage     float64 `json:"Voltage"`
	Temperature float64 `json:"Temperature"`
}

// TelemetryRecord is the payload published on TelemetryTopic
type TelemetryRecord struct {
	Dc                DcTelemetry `json:"Dc"`
	InstalledCapacity float64     `json:"InstalledCapacity"`
	Soc               float64     `json:"Soc"`
}

// SnapshotSource provides the latest averages
type SnapshotSource interface {
	Snapshot() AveragerSnapshot
}

type publisherState int32

const (
	stateIdle publisherState = iota
	stateConnected
	statePublishing
	stateReconnecting
)

func (s publisherState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnected:
		return "connected"
	case statePublishing:
		return "publishing"
	case stateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("publisherState(%d)", int32(s))
}

// orDefault substitutes def for a missing or zero value. A zero reading
// cannot be told apart from a missing one.
func orDefault(v *float64, def float64) float64 {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

// BuildTelemetryRecord derives the published record from a snapshot. SOC is
// taken from the raw voltage average, so a fault cycle (-1) or a zero average
// is evaluated on the curve and only a missing average gives the floor.
func BuildTelemetryRecord(cfg Config, snap AveragerSnapshot) TelemetryRecord {
	soc := estimate.EstimateSOC(cfg.SOCMode, snap.VoltageAvg)
	voltage := orDefault(snap.VoltageAvg, ErrValue)
	temperature := orDefault(snap.TemperatureAvg, ErrValue)

	return TelemetryRecord{
		Dc: DcTelemetry{
			Power:       cfg.EstimatedCurrent * voltage,
			Voltage:     voltage,
			Temperature: temperature,
		},
		InstalledCapacity: InstalledCapacity,
		Soc:               soc,
	}
}

// TelemetryPublisher publishes a telemetry record on a fixed period.
// Any failure discards the broker client, builds a new one and pauses
// before the next period.
type TelemetryPublisher struct {
	cfg        Config
	source     SnapshotSource
	newChannel ChannelFactory
	channel    PublishChannel
	metrics    *Metrics
	state      atomic.Int32
}

// NewTelemetryPublisher creates a publisher with a fresh channel from newChannel
func NewTelemetryPublisher(cfg Config, source SnapshotSource, newChannel ChannelFactory, metrics *Metrics) *TelemetryPublisher {
	return &TelemetryPublisher{
		cfg:        cfg,
		source:     source,
		newChannel: newChannel,
		channel:    newChannel(),
		metrics:    metrics,
	}
}

// State returns the publisher's current state
func (p *TelemetryPublisher) State() publisherState {
	return publisherState(p.state.Load())
}

func (p *TelemetryPublisher) setState(s publisherState) {
	p.state.Store(int32(s))
}

// Run publishes once per VRMInterval until ctx is done
func (p *TelemetryPublisher) Run(ctx context.Context) {
	log.Printf("Telemetry publisher started (interval %v, topic %s)\n", p.cfg.VRMInterval, TelemetryTopic)

	ticker := time.NewTicker(p.cfg.VRMInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.publishOnce(); err != nil {
				p.reset(ctx, err)
			}

		case <-ctx.Done():
			p.channel.Disconnect()
			p.setState(stateIdle)
			log.Println("Telemetry publisher stopped")
			return
		}
	}
}

// publishOnce reads the snapshot, connects and publishes one record
func (p *TelemetryPublisher) publishOnce() error {
	snap, err := p.readSnapshot()
	if err != nil {
		p.metrics.publishFailures.WithLabelValues("read").Inc()
		return err
	}

	if err := p.channel.Connect(); err != nil {
		p.metrics.publishFailures.WithLabelValues("connect").Inc()
		return fmt.Errorf("connecting: %w", err)
	}
	p.setState(stateConnected)

	record := BuildTelemetryRecord(p.cfg, snap)
	payload, err := json.Marshal(record)
	if err != nil {
		p.metrics.publishFailures.WithLabelValues("encode").Inc()
		return fmt.Errorf("encoding record: %w", err)
	}

	p.setState(statePublishing)
	err = p.channel.Publish(MQTTMessage{
		Topic:   TelemetryTopic,
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	if err != nil {
		p.metrics.publishFailures.WithLabelValues("publish").Inc()
		return fmt.Errorf("publishing to %s: %w", TelemetryTopic, err)
	}
	p.setState(stateIdle)

	p.metrics.publishes.Inc()
	p.metrics.stateOfCharge.Set(record.Soc)
	log.Printf("Current: %0.3fA, Power: %.3fW, Voltage: %.2fV, Temperature: %.1f°C, SOC: %3.0f%%\n",
		p.cfg.EstimatedCurrent, record.Dc.Power, record.Dc.Voltage, record.Dc.Temperature, record.Soc)

	return nil
}

// readSnapshot turns a panicking source into an error
func (p *TelemetryPublisher) readSnapshot() (snap AveragerSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading averages: %v", r)
		}
	}()
	return p.source.Snapshot(), nil
}

// reset replaces the channel and waits ReconnectPause
func (p *TelemetryPublisher) reset(ctx context.Context, cause error) {
	log.Printf("Warning: %v\n", cause)
	p.setState(stateReconnecting)

	p.channel.Disconnect()
	p.channel = p.newChannel()
	p.metrics.reconnects.Inc()

	select {
	case <-time.After(p.cfg.ReconnectPause):
	case <-ctx.Done():
	}
}

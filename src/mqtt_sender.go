package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// PublishChannel is a broker session the telemetry worker publishes through
type PublishChannel interface {
	Connect() error
	Publish(msg MQTTMessage) error
	Disconnect()
}

// ChannelFactory creates a fresh, unconnected PublishChannel
type ChannelFactory func() PublishChannel

var errTokenTimeout = errors.New("timed out waiting for broker")

// pahoChannel is a PublishChannel backed by a paho MQTT client
type pahoChannel struct {
	client  mqtt.Client
	broker  string
	timeout time.Duration
}

// NewPahoChannelFactory returns a factory building paho clients for cfg.
// onConnect messages (retained discovery configs) are sent after every
// successful connection.
func NewPahoChannelFactory(cfg Config, onConnect []MQTTMessage) ChannelFactory {
	return func() PublishChannel {
		return newPahoChannel(cfg, onConnect)
	}
}

func newPahoChannel(cfg Config, onConnect []MQTTMessage) *pahoChannel {
	broker := cfg.BrokerURL()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", broker)

		for _, msg := range onConnect {
			token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
			}
		}
		if len(onConnect) > 0 {
			log.Printf("Sent %d discovery messages\n", len(onConnect))
		}
	})

	return &pahoChannel{
		client:  mqtt.NewClient(opts),
		broker:  broker,
		timeout: 10 * time.Second,
	}
}

// Connect opens the session if it is not already open
func (c *pahoChannel) Connect() error {
	if c.client.IsConnectionOpen() {
		return nil
	}

	log.Printf("Connecting to MQTT broker at %s...\n", c.broker)
	return waitToken(c.client.Connect(), c.timeout)
}

// Publish sends msg and waits for the broker to accept it
func (c *pahoChannel) Publish(msg MQTTMessage) error {
	return waitToken(c.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload), c.timeout)
}

// Disconnect closes the session if it is open
func (c *pahoChannel) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}

func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errTokenTimeout
	}
	return token.Error()
}

// batteryDiscoveryMessages builds Home Assistant MQTT discovery configs for
// the values carried in the telemetry record
func batteryDiscoveryMessages(cfg Config) ([]MQTTMessage, error) {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		DeviceClass      string         `json:"device_class"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		ExpireAfter      uint           `json:"expire_after,omitempty"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	entities := []struct {
		name, class, unit, key, jsonPath string
		precision                        int
	}{
		{"State of Charge", "battery", "%", "soc", "Soc", 0},
		{"Voltage", "voltage", "V", "voltage", "Dc.Voltage", 2},
		{"Temperature", "temperature", "°C", "temperature", "Dc.Temperature", 1},
		{"Power", "power", "W", "power", "Dc.Power", 3},
	}

	deviceId := "batteryfeed_" + strings.ReplaceAll(strings.ToLower(cfg.MQTTClientID), " ", "_")

	msgs := make([]MQTTMessage, 0, len(entities))
	for _, e := range entities {
		config := haEntityConfig{
			Name:             e.name,
			DeviceClass:      e.class,
			StateTopic:       TelemetryTopic,
			UnitOfMeasure:    e.unit,
			ValueTemplate:    "{{ value_json." + e.jsonPath + " }}",
			UniqueId:         deviceId + "_" + e.key,
			ExpireAfter:      uint(3 * cfg.VRMInterval / time.Second),
			StateClass:       "measurement",
			DisplayPrecision: e.precision,
			Device: haDeviceConfig{
				Identifiers:  []string{deviceId},
				Name:         "Battery",
				Manufacturer: "batteryfeed",
				Model:        fmt.Sprintf("%.0f Ah", InstalledCapacity),
			},
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return nil, err
		}

		msgs = append(msgs, MQTTMessage{
			Topic:   "homeassistant/sensor/" + deviceId + "_" + e.key + "/config",
			Payload: payload,
			QoS:     1,
			Retain:  true,
		})
	}

	return msgs, nil
}

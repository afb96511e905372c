package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is an mqtt.Token that completes when done is closed
type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	return t.err
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done, err: err}
}

func TestWaitToken(t *testing.T) {
	assert.NoError(t, waitToken(completedToken(nil), time.Second))

	brokerErr := errors.New("not authorised")
	assert.ErrorIs(t, waitToken(completedToken(brokerErr), time.Second), brokerErr)

	pending := &fakeToken{done: make(chan struct{})}
	assert.ErrorIs(t, waitToken(pending, 10*time.Millisecond), errTokenTimeout)
}

func TestBatteryDiscoveryMessages(t *testing.T) {
	cfg := DefaultConfig()
	msgs, err := batteryDiscoveryMessages(cfg)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	topics := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		topics = append(topics, msg.Topic)
		assert.True(t, msg.Retain)
		assert.Equal(t, byte(1), msg.QoS)
	}
	assert.Equal(t, []string{
		"homeassistant/sensor/batteryfeed_p1_soc/config",
		"homeassistant/sensor/batteryfeed_p1_voltage/config",
		"homeassistant/sensor/batteryfeed_p1_temperature/config",
		"homeassistant/sensor/batteryfeed_p1_power/config",
	}, topics)

	var soc map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &soc))
	assert.Equal(t, "enphase/battery", soc["state_topic"])
	assert.Equal(t, "{{ value_json.Soc }}", soc["value_template"])
	assert.Equal(t, "battery", soc["device_class"])
	assert.Equal(t, "%", soc["unit_of_measurement"])
	assert.Equal(t, "batteryfeed_p1_soc", soc["unique_id"])
	assert.Equal(t, 90.0, soc["expire_after"])

	var voltage map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &voltage))
	assert.Equal(t, "{{ value_json.Dc.Voltage }}", voltage["value_template"])
}

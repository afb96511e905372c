package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_HandlerExposesWorkerCounters(t *testing.T) {
	metrics := newTestMetrics()

	sensor, _ := sensorServer(t, respond(http.StatusOK, okStatus))
	averager := NewAverager(NewSensorReader(testReaderConfig(sensor), metrics), 0, ErrValue, metrics)
	averager.sample(context.Background())

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "batteryfeed_sensor_fetch_attempts_total 1")
	assert.Contains(t, text, "batteryfeed_samples_total 1")
	assert.Contains(t, text, "batteryfeed_voltage_average_volts 52.1")
	assert.Contains(t, text, "batteryfeed_temperature_average_celsius 21")
}

func TestMetrics_FailureReasons(t *testing.T) {
	metrics := newTestMetrics()

	sensor, _ := sensorServer(t, respond(http.StatusOK, `{"adcs":[]}`))
	NewSensorReader(testReaderConfig(sensor), metrics).Fetch(context.Background())

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `batteryfeed_sensor_fetch_failures_total{reason="payload"} 3`)
	assert.Contains(t, text, "batteryfeed_sensor_fetch_exhausted_total 1")
}

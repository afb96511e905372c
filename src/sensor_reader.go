package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
)

// Reading is one sample from the battery sensor. A nil field means the
// value could not be read.
type Reading struct {
	Voltage     *float64
	Temperature *float64
}

// Fetcher produces a Reading. Implementations absorb their own failures.
type Fetcher interface {
	Fetch(ctx context.Context) Reading
}

// sensorStatus is the subset of the sensor's /status document we use
type sensorStatus struct {
	ADCs []struct {
		Voltage *float64 `json:"voltage"`
	} `json:"adcs"`
	ExtTemperature map[string]struct {
		TC *float64 `json:"tC"`
	} `json:"ext_temperature"`
}

var (
	errMissingField = errors.New("missing field in sensor status")
	errBadPayload   = errors.New("malformed sensor status")
)

// statusError is returned for any HTTP status other than 200
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP Status Code: %d", e.code)
}

// SensorReader polls the sensor's status endpoint
type SensorReader struct {
	host    string
	url     string
	client  *http.Client
	retry   RetryPolicy
	metrics *Metrics
}

// NewSensorReader creates a reader for the sensor described by cfg
func NewSensorReader(cfg Config, metrics *Metrics) *SensorReader {
	return &SensorReader{
		host:   cfg.SensorHost,
		url:    cfg.SensorURL(),
		client: &http.Client{Timeout: cfg.SensorTimeout},
		retry: RetryPolicy{
			MaxAttempts: cfg.SensorMaxRetries,
			Delay:       cfg.SensorRetryGap,
		},
		metrics: metrics,
	}
}

// Fetch reads voltage and temperature, retrying per the reader's policy.
// When every attempt fails both fields are nil.
func (r *SensorReader) Fetch(ctx context.Context) Reading {
	var reading Reading
	err := r.retry.Do(ctx, func(int) error {
		var err error
		reading, err = r.fetchOnce(ctx)
		if err != nil {
			r.recordFailure(err)
			var se *statusError
			if errors.As(err, &se) {
				log.Printf("Warning: Failed to fetch data. %v\n", se)
			}
		}
		return err
	})
	if err != nil {
		r.metrics.fetchExhausted.Inc()
		log.Printf("Warning: Max retries reached. Unable to fetch data from %s.\n", r.host)
		return Reading{}
	}
	return reading
}

func (r *SensorReader) fetchOnce(ctx context.Context) (Reading, error) {
	r.metrics.fetchAttempts.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return Reading{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Reading{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, &statusError{code: resp.StatusCode}
	}

	var status sensorStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return status.reading()
}

// reading extracts adcs[0].voltage and ext_temperature["0"].tC
func (s *sensorStatus) reading() (Reading, error) {
	if len(s.ADCs) == 0 || s.ADCs[0].Voltage == nil {
		return Reading{}, fmt.Errorf("%w: adcs[0].voltage", errMissingField)
	}
	temp, ok := s.ExtTemperature["0"]
	if !ok || temp.TC == nil {
		return Reading{}, fmt.Errorf("%w: ext_temperature.0.tC", errMissingField)
	}

	voltage, temperature := *s.ADCs[0].Voltage, *temp.TC
	return Reading{Voltage: &voltage, Temperature: &temperature}, nil
}

func (r *SensorReader) recordFailure(err error) {
	var se *statusError
	switch {
	case errors.As(err, &se):
		r.metrics.fetchFailures.WithLabelValues("status").Inc()
	case errors.Is(err, errMissingField), errors.Is(err, errBadPayload):
		r.metrics.fetchFailures.WithLabelValues("payload").Inc()
	case errors.Is(err, context.Canceled):
		r.metrics.fetchFailures.WithLabelValues("cancelled").Inc()
	default:
		r.metrics.fetchFailures.WithLabelValues("request").Inc()
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors updated by the workers
type Metrics struct {
	fetchAttempts   prometheus.Counter
	fetchFailures   *prometheus.CounterVec
	fetchExhausted  prometheus.Counter
	samples         prometheus.Counter
	publishes       prometheus.Counter
	publishFailures *prometheus.CounterVec
	reconnects      prometheus.Counter
	voltageAverage  prometheus.Gauge
	temperatureAvg  prometheus.Gauge
	stateOfCharge   prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batteryfeed_sensor_fetch_attempts_total",
			Help: "HTTP requests made to the battery sensor.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batteryfeed_sensor_fetch_failures_total",
			Help: "Failed sensor requests by reason.",
		}, []string{"reason"}),
		fetchExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batteryfeed_sensor_fetch_exhausted_total",
			Help: "Fetches that used every retry without a reading.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batteryfeed_samples_total",
			Help: "Sampling ticks completed by the averager.",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batteryfeed_publishes_total",
			Help: "Telemetry records published.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batteryfeed_publish_failures_total",
			Help: "Publish loop failures by stage.",
		}, []string{"stage"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batteryfeed_mqtt_client_recreated_total",
			Help: "Times the MQTT client was discarded and recreated.",
		}),
		voltageAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batteryfeed_voltage_average_volts",
			Help: "Latest rolling voltage average.",
		}),
		temperatureAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batteryfeed_temperature_average_celsius",
			Help: "Latest rolling temperature average.",
		}),
		stateOfCharge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batteryfeed_state_of_charge_percent",
			Help: "Last published state of charge.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.fetchAttempts, m.fetchFailures, m.fetchExhausted, m.samples,
		m.publishes, m.publishFailures, m.reconnects,
		m.voltageAverage, m.temperatureAvg, m.stateOfCharge,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// metricsWorker serves /metrics on addr until ctx is done
func metricsWorker(ctx context.Context, addr string, metrics *Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Serving metrics on %s\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server stopped: %v\n", err)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
// The returned channel is closed once the worker will not run again.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) <-chan struct{} {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	done := make(chan struct{})
	go func() {
		defer close(done)
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or finished
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := LoadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Start, VRM_Interval=%v, AVG_Interval=%v, current estimation=%gA, DATAIP=%s, broker=%s, SOC mode=%d (%s)\n",
		cfg.VRMInterval, cfg.AvgInterval, cfg.EstimatedCurrent, cfg.SensorHost,
		cfg.BrokerURL(), int(cfg.SOCMode), cfg.SOCMode)
	cfg.WarnOnIntervals()

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	metrics := NewMetrics(prometheus.NewRegistry())
	if cfg.MetricsAddr != "" {
		SafeGo(ctx, cancel, "metrics-server", func(ctx context.Context) {
			metricsWorker(ctx, cfg.MetricsAddr, metrics)
		})
	}

	var discovery []MQTTMessage
	if cfg.HADiscovery {
		discovery, err = batteryDiscoveryMessages(cfg)
		if err != nil {
			cancel()
			log.Fatalf("Failed to build Home Assistant discovery messages: %v", err)
		}
	}

	// Start sampling in the background
	reader := NewSensorReader(cfg, metrics)
	averager := NewAverager(reader, cfg.AvgInterval, ErrValue, metrics)
	averager.Start(ctx, cancel)

	publisher := NewTelemetryPublisher(cfg, averager, NewPahoChannelFactory(cfg, discovery), metrics)
	publisherDone := SafeGo(ctx, cancel, "telemetry-publisher", publisher.Run)

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Quitting.")
	case <-ctx.Done():
		log.Println("Shutting down due to error...")
	}

	averager.Stop()
	cancel()

	select {
	case <-publisherDone:
	case <-time.After(2 * time.Second):
	}
}

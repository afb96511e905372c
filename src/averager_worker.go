package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryansname/batteryfeed/src/estimate"
)

// AveragerSnapshot is a point-in-time copy of the latest averages.
// A nil field means no average has been computed yet.
type AveragerSnapshot struct {
	VoltageAvg     *float64
	TemperatureAvg *float64
}

// Averager samples the sensor on a fixed period and keeps rolling averages
// of voltage and temperature. The windows are owned by the sampling loop;
// the averages are published through atomics so readers never block it.
type Averager struct {
	fetcher  Fetcher
	interval time.Duration
	errValue float64
	metrics  *Metrics

	voltage     *estimate.RollingWindow
	temperature *estimate.RollingWindow

	voltageAvg     atomic.Pointer[float64]
	temperatureAvg atomic.Pointer[float64]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewAverager creates an averager that has not started sampling
func NewAverager(fetcher Fetcher, interval time.Duration, errValue float64, metrics *Metrics) *Averager {
	return &Averager{
		fetcher:     fetcher,
		interval:    interval,
		errValue:    errValue,
		metrics:     metrics,
		voltage:     estimate.NewRollingWindow(estimate.WindowSize),
		temperature: estimate.NewRollingWindow(estimate.WindowSize),
	}
}

// Start launches the sampling loop under SafeGo. onFatal is called if the
// loop keeps panicking. Calling Start on a running averager does nothing.
func (a *Averager) Start(ctx context.Context, onFatal context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = SafeGo(runCtx, onFatal, "averager", a.Run)
}

// Stop asks the sampling loop to exit and waits for it. A fetch already in
// progress is allowed to finish.
func (a *Averager) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run samples immediately and then once per interval until ctx is done.
// ctx is only checked between samples.
func (a *Averager) Run(ctx context.Context) {
	log.Printf("Averager started (interval %v)\n", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.sample(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			log.Println("Averager stopped")
			return
		}
	}
}

// sample performs one fetch and folds it into both windows. The fetch is not
// cancelled with ctx, so stopping never turns a good reading into a fault.
func (a *Averager) sample(ctx context.Context) {
	reading := a.fetcher.Fetch(context.WithoutCancel(ctx))

	if avg, ok := a.update(a.voltage, reading.Voltage, "Voltage"); ok {
		a.voltageAvg.Store(&avg)
		a.metrics.voltageAverage.Set(avg)
	}
	if avg, ok := a.update(a.temperature, reading.Temperature, "Temperature"); ok {
		a.temperatureAvg.Store(&avg)
		a.metrics.temperatureAvg.Set(avg)
	}

	a.metrics.samples.Inc()
}

// update pushes value onto window, or on a missing value clears the window
// and pushes the error sentinel so the fault shows in the average
func (a *Averager) update(window *estimate.RollingWindow, value *float64, name string) (float64, bool) {
	if value == nil {
		log.Printf("%s reading missing, resetting window to %.1f\n", name, a.errValue)
		window.Reset()
		window.Push(a.errValue)
	} else {
		window.Push(*value)
	}
	return window.Mean()
}

// VoltageAverage returns the latest voltage average, or nil before the first sample
func (a *Averager) VoltageAverage() *float64 {
	return copyFloat(a.voltageAvg.Load())
}

// TemperatureAverage returns the latest temperature average, or nil before the first sample
func (a *Averager) TemperatureAverage() *float64 {
	return copyFloat(a.temperatureAvg.Load())
}

// Snapshot returns both averages. They are read independently.
func (a *Averager) Snapshot() AveragerSnapshot {
	return AveragerSnapshot{
		VoltageAvg:     a.VoltageAverage(),
		TemperatureAvg: a.TemperatureAverage(),
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Package monitoring exports lock manager statistics in the Prometheus
// exposition format.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/logging"
)

// StateSource is sampled on every scrape. *lock.LockManager satisfies it.
type StateSource interface {
	TryState() (lock.Snapshot, bool)
}

// Collector turns snapshots into metrics. A scrape that finds the manager
// inside a structural section reports only locklevels_busy.
type Collector struct {
	src StateSource

	acquired       *prometheus.Desc
	waited         *prometheus.Desc
	faults         *prometheus.Desc
	level0Holders  *prometheus.Desc
	level1Holders  *prometheus.Desc
	level2Attempts *prometheus.Desc
	level3Pending  *prometheus.Desc
	busy           *prometheus.Desc
}

func NewCollector(src StateSource, manager string) *Collector {
	labels := prometheus.Labels{"manager": manager}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc("locklevels_"+name, help, variable, labels)
	}
	return &Collector{
		src:            src,
		acquired:       desc("acquired_total", "Lock acquisitions completed, per level.", "level"),
		waited:         desc("waited_total", "Lock acquisitions that had to wait, per level.", "level"),
		faults:         desc("faults_total", "Locking contract violations."),
		level0Holders:  desc("level0_holders", "Sum of level-0 hold counts over all keys."),
		level1Holders:  desc("level1_holders", "Keys held at level 1."),
		level2Attempts: desc("level2_attempts", "Goroutines waiting for or holding level 2."),
		level3Pending:  desc("level3_pending", "Goroutines waiting for or holding level 3."),
		busy:           desc("busy", "1 when the scrape found a structural section holding the manager."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.waited
	ch <- c.faults
	ch <- c.level0Holders
	ch <- c.level1Holders
	ch <- c.level2Attempts
	ch <- c.level3Pending
	ch <- c.busy
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.src.TryState()
	if !ok {
		ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, 0)

	for l := lock.Level0; l <= lock.Level3; l++ {
		level := strconv.Itoa(int(l))
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(snap.Stats.Acquired[l]), level)
		ch <- prometheus.MustNewConstMetric(c.waited, prometheus.CounterValue, float64(snap.Stats.Waited[l]), level)
	}
	ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(snap.Stats.Faults))

	var shared int
	for _, n := range snap.Level0Holders {
		shared += n
	}
	ch <- prometheus.MustNewConstMetric(c.level0Holders, prometheus.GaugeValue, float64(shared))
	ch <- prometheus.MustNewConstMetric(c.level1Holders, prometheus.GaugeValue, float64(len(snap.Level1Holders)))
	ch <- prometheus.MustNewConstMetric(c.level2Attempts, prometheus.GaugeValue, float64(snap.Level2Attempts))
	ch <- prometheus.MustNewConstMetric(c.level3Pending, prometheus.GaugeValue, float64(snap.Level3Pending))
}

// Handler serves /metrics from reg and a /health probe.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Serve exposes src on addr until ctx is done. It fails immediately if addr
// cannot be bound.
func Serve(ctx context.Context, addr, manager string, src StateSource) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src, manager)); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      Handler(reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log := logging.WithComponent("monitoring")
	log.Info("metrics available", "url", "http://"+ln.Addr().String()+"/metrics")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

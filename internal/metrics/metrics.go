// Package metrics exposes Prometheus collectors for the worker lifecycle.
// Collectors are package-level and stay inert until Register succeeds.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sidecar"

// Label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"

	OutcomeReaped = "reaped"
	OutcomeNoop   = "noop"

	TargetChild = "child"
	TargetRoot  = "root"
	TargetTree  = "tree"
)

var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "launches_total",
			Help:      "Worker launch attempts by result.",
		}, []string{"result"},
	)
	teardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "teardowns_total",
			Help:      "Teardown triggers by trigger and whether a worker was reaped.",
		}, []string{"trigger", "outcome"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 while a worker handle is held, 0 otherwise.",
		},
	)
	treeRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tree_rss_bytes",
			Help:      "Resident memory of the worker and its direct children at last sample.",
		},
	)
	kills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "kills_total",
			Help:      "Kill signals issued by the reaper by target.",
		}, []string{"target"},
	)
	staleKilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "killed_total",
			Help:      "Stale worker instances killed at startup.",
		},
	)
)

// Register registers every collector with r. Calling it again after a
// success is a no-op; collectors already present in r are kept.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, teardowns, running, treeRSS, kills, staleKilled}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func IncLaunch(result string) {
	if regOK.Load() {
		launches.WithLabelValues(result).Inc()
	}
}

func IncTeardown(trigger, outcome string) {
	if regOK.Load() {
		teardowns.WithLabelValues(trigger, outcome).Inc()
	}
}

func SetRunning(on bool) {
	if regOK.Load() {
		v := 0.0
		if on {
			v = 1
		}
		running.Set(v)
	}
}

func SetTreeRSS(bytes uint64) {
	if regOK.Load() {
		treeRSS.Set(float64(bytes))
	}
}

func IncKill(target string) {
	if regOK.Load() {
		kills.WithLabelValues(target).Inc()
	}
}

func AddStaleKilled(n int) {
	if regOK.Load() && n > 0 {
		staleKilled.Add(float64(n))
	}
}

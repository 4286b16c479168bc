// Package metrics provides Prometheus metrics for the engine, the pumps and
// the wait loop.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pump directions, as seen from the child.
const (
	DirectionToChild   = "to_child"
	DirectionFromChild = "from_child"
)

// Spawn results.
const (
	SpawnOK     = "ok"
	SpawnFailed = "failed"
)

var (
	spawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpgrun",
		Subsystem: "engine",
		Name:      "spawns_total",
		Help:      "Child processes spawned, by result",
	}, []string{"result"})

	runningChildren = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpgrun",
		Subsystem: "engine",
		Name:      "running_children",
		Help:      "Child processes currently running",
	})

	childExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpgrun",
		Subsystem: "engine",
		Name:      "child_exits_total",
		Help:      "Child process exits, by exit code (-1 when killed by a signal)",
	}, []string{"code"})

	statusEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpgrun",
		Subsystem: "status",
		Name:      "events_total",
		Help:      "Status events dispatched, by keyword",
	}, []string{"keyword"})

	pumpedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpgrun",
		Subsystem: "pump",
		Name:      "bytes_total",
		Help:      "Bytes moved through data pipes, by direction",
	}, []string{"direction"})

	waitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpgrun",
		Subsystem: "wait",
		Name:      "failures_total",
		Help:      "Wait loop aborts, by error code",
	}, []string{"code"})
)

// IncSpawns counts a spawn attempt.
func IncSpawns(result string) {
	spawnsTotal.WithLabelValues(result).Inc()
}

// ChildStarted marks a child as running.
func ChildStarted() {
	runningChildren.Inc()
}

// ChildExited records a reaped child.
func ChildExited(code int) {
	runningChildren.Dec()
	childExitsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// IncStatusEvents counts a dispatched status event.
func IncStatusEvents(keyword string) {
	statusEventsTotal.WithLabelValues(keyword).Inc()
}

// AddPumpedBytes counts bytes moved by a pump.
func AddPumpedBytes(direction string, n int) {
	pumpedBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// IncWaitFailures counts a wait loop abort.
func IncWaitFailures(code string) {
	waitFailuresTotal.WithLabelValues(code).Inc()
}

// Package metrics exposes allocation and transfer counters for synced
// memory on a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transfer directions
const (
	HtoD      = "htod"
	DtoH      = "dtoh"
	HtoDAsync = "htod_async"
)

// Host allocation paths
const (
	PathPinned = "pinned"
	PathPlain  = "plain"
)

var (
	// Registry holds every collector in this package
	Registry = prometheus.NewRegistry()

	Transfers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "transfers_total",
		Help:      "Host/device copies issued, by direction.",
	}, []string{"direction"})

	TransferBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "transfer_bytes_total",
		Help:      "Bytes copied between host and device, by direction.",
	}, []string{"direction"})

	HostAllocBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "host_alloc_bytes_total",
		Help:      "Aligned bytes requested from host allocators, by path.",
	}, []string{"path"})

	HostFrees = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "host_free_total",
		Help:      "Host blocks returned, by path.",
	}, []string{"path"})

	DeviceAllocBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "device_alloc_bytes_total",
		Help:      "Aligned bytes requested from device allocators.",
	})

	Releases = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncmem",
		Name:      "releases_total",
		Help:      "Eager releases, explicit or triggered by the reference count reaching zero.",
	})
)

func init() {
	Registry.MustRegister(Transfers, TransferBytes, HostAllocBytes, HostFrees, DeviceAllocBytes, Releases)
}

// ObserveTransfer records one copy of n bytes
func ObserveTransfer(direction string, n int) {
	Transfers.WithLabelValues(direction).Inc()
	TransferBytes.WithLabelValues(direction).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

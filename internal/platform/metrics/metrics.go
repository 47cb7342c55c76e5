// Package metrics defines the Prometheus metrics of the user admin service.
//
// Operation counters register themselves with the default registry on
// import. The directory gauges are computed on scrape by a Collector
// registered through Register.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valinor-ai/useradmin/internal/directory"
)

const namespace = "useradmin"

// OperationsTotal counts directory mutations.
// Labels:
//   - operation: e.g. "create_user", "delete_role"
//   - result: "ok" or the error kind (e.g. "role_in_use", "collaborator")
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Total number of directory operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// RenewalScansTotal counts password renewal scans run by the worker.
var RenewalScansTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renewal_scans_total",
		Help:      "Total number of password renewal scans.",
	},
)

// Observer feeds directory operation outcomes into OperationsTotal.
type Observer struct{}

func (Observer) ObserveOperation(op string, err error) {
	OperationsTotal.WithLabelValues(op, directory.KindOf(err)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Register adds a DirectoryCollector for src to the default registry.
func Register(src Source) error {
	return prometheus.Register(NewDirectoryCollector(src))
}

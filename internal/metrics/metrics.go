// Package metrics contains the Prometheus-based implementations of the metrics
// interfaces of the service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the namespace of all metrics of the service.
const Namespace = "rulesync"

// Constants with the subsystem names that are used in the Prometheus metrics.
const (
	subsystemApplication = "app"
	subsystemConfBuild   = "confbuild"
	subsystemReconcile   = "reconcile"
)

// SetUpGauge signals that the service has been started.  It registers the gauge
// in reg.
func SetUpGauge(
	namespace string,
	reg prometheus.Registerer,
	version string,
	buildTime string,
	revision string,
	goVersion string,
) (err error) {
	upGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "up",
		Namespace: namespace,
		Subsystem: subsystemApplication,
		Help: `A metric with a constant '1' value labeled by ` +
			`version and goversion from which the program was built.`,
		ConstLabels: prometheus.Labels{
			"version":   version,
			"buildtime": buildTime,
			"revision":  revision,
			"goversion": goVersion,
		},
	})

	err = reg.Register(upGauge)
	if err != nil {
		return fmt.Errorf("registering metrics %q: %w", "up", err)
	}

	upGauge.Set(1)

	return nil
}

// boolToFloat returns 1 if cond is true and 0 otherwise.
func boolToFloat(cond bool) (f float64) {
	if cond {
		return 1
	}

	return 0
}

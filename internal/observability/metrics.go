package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is the global telemetry system. Nil disables every
	// recorder in internal/metrics.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint proxied by /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// DefaultMetricsPort is used when the exporter address cannot be resolved.
const DefaultMetricsPort = 9090

// MetricsOptions configures the Prometheus exporter. Port 0 picks a free
// port; GetMetricsPort reports the bound one.
type MetricsOptions struct {
	Service   string
	Port      int
	Namespace string
}

// InitMetrics starts the Prometheus exporter and installs TelemetrySystem.
func InitMetrics(opts MetricsOptions) error {
	requested := opts.Port
	if requested < 0 {
		requested = 0
	}
	metricsPort = requested

	namespace := opts.Namespace
	if namespace == "" {
		namespace = opts.Service
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", requested))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}
	PrometheusExporter = exporter

	if actual, err := resolvePort(exporter.GetAddr()); err == nil {
		metricsPort = actual
	} else if requested == 0 {
		metricsPort = DefaultMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the Prometheus exporter is listening on
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

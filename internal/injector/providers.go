package injector

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/tachyon/internal/config"
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/observability/metrics"
	"github.com/zeusync/tachyon/internal/server"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "tachyon"

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideServer,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

// ProvideRegistry returns a registry with the process and Go runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}

// ProvideMetrics returns nil when metrics are disabled.
func ProvideMetrics(cfg config.Config, reg *prometheus.Registry) (*metrics.Dispatch, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	m := metrics.NewDispatch(MetricsNamespace)
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func ProvideServer(cfg config.Config, logger log.Log, m *metrics.Dispatch, reg *prometheus.Registry) *server.Server {
	return server.New(cfg, logger, m, reg)
}

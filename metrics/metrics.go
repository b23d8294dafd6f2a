// Package metrics exposes the fleet manager's Prometheus metrics (A6).
//
// Grounded on Will-Luck-Docker-Sentinel/internal/metrics/metrics.go: one
// package-level var block of promauto-registered collectors, named after
// this system's own domain (fleet_* rather than sentinel_*) instead of a
// struct wrapper, since promauto vars are already process-global the way
// the Default registry itself is.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agents_total",
		Help: "Total number of registered agents.",
	})
	HostCircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_host_circuit_open",
		Help: "1 if a host's Docker circuit breaker is open, 0 otherwise.",
	}, []string{"host_id"})
	RecoveryRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_recovery_restarts_total",
		Help: "Total number of crash-recovery restarts, by host.",
	}, []string{"host_id"})
	RecoverySweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_recovery_sweep_duration_seconds",
		Help:    "Duration of one crash-recovery sweep across all hosts.",
		Buckets: prometheus.DefBuckets,
	})
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_proxy_reconcile_total",
		Help: "Total number of reverse-proxy reconcile runs by outcome.",
	}, []string{"outcome"})
	DeploymentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_deployments_active",
		Help: "1 if a deployment is currently non-terminal, 0 otherwise.",
	})
	DeploymentAgentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_deployment_agents_total",
		Help: "Total number of per-agent deployment outcomes.",
	}, []string{"outcome"})
	RollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_rollbacks_total",
		Help: "Total number of rollback proposals executed.",
	})
	ImagesRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_images_removed_total",
		Help: "Total number of images removed by the retention sweep, by host.",
	}, []string{"host_id"})
	PortsAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_ports_allocated",
		Help: "Number of ports currently allocated out of the configured range.",
	})
)

// Package health monitors the health of remote federation
// destinations this server talks to. Retargeted from the teacher's
// container health monitor (pkg/health.Monitor polling dockerClient
// for container liveness) to polling pkg/fedclient.Client's per-
// destination circuit breakers instead: "container running/stopped"
// becomes "destination circuit closed/open/half-open", and recovery
// actions become alerting rather than container restarts.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/matrixcore/pkg/fedclient"
	"github.com/armorclaw/matrixcore/pkg/logger"
)

// Monitor tracks federation destination health and raises alerts when
// a destination's circuit trips open.
type Monitor struct {
	client        *fedclient.Client
	checkInterval time.Duration
	maxFailures   int
	destinations  map[string]*DestinationHealth
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	securityLog   *logger.SecurityLogger
	onFailure     FailureHandler

	circuitState  *prometheus.GaugeVec
	checkFailures *prometheus.CounterVec
}

// DestinationHealth holds health status for one remote server.
type DestinationHealth struct {
	ServerName   string
	State        string // "closed", "open", "half_open"
	FailureCount int
	LastCheck    time.Time
	LastHealthy  time.Time
	mu           sync.RWMutex
}

// Copy returns a copy of the DestinationHealth without the mutex.
func (h *DestinationHealth) Copy() *DestinationHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return &DestinationHealth{
		ServerName:   h.ServerName,
		State:        h.State,
		FailureCount: h.FailureCount,
		LastCheck:    h.LastCheck,
		LastHealthy:  h.LastHealthy,
	}
}

// FailureHandler is called when a destination's circuit opens.
type FailureHandler func(serverName, reason string)

// MonitorConfig holds configuration for health monitoring.
type MonitorConfig struct {
	CheckInterval time.Duration // How often to poll tracked destinations
	MaxFailures   int           // Consecutive failures before alerting, independent of the breaker's own threshold
	MaxStaleness  time.Duration // Max time since a destination was last seen healthy
}

// DefaultMonitorConfig returns default monitoring configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval: 30 * time.Second,
		MaxFailures:   3,
		MaxStaleness:  5 * time.Minute,
	}
}

// NewMonitor creates a new destination health monitor polling client's
// circuit breakers.
func NewMonitor(client *fedclient.Client, config MonitorConfig) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.CheckInterval == 0 {
		config.CheckInterval = DefaultMonitorConfig().CheckInterval
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = DefaultMonitorConfig().MaxFailures
	}

	return &Monitor{
		client:        client,
		checkInterval: config.CheckInterval,
		maxFailures:   config.MaxFailures,
		destinations:  make(map[string]*DestinationHealth),
		ctx:           ctx,
		cancel:        cancel,
		securityLog:   logger.NewSecurityLogger(logger.Global().WithComponent("health_monitor")),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matrixcore_destination_circuit_state",
			Help: "Per-destination circuit breaker state (0=closed, 1=half_open, 2=open).",
		}, []string{"server_name"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matrixcore_destination_check_failures_total",
			Help: "Consecutive health-check failures observed per destination.",
		}, []string{"server_name"}),
	}
}

// Collectors returns the Prometheus collectors this monitor exposes,
// for registration on the caller's registry.
func (m *Monitor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.circuitState, m.checkFailures}
}

// SetFailureHandler sets a custom handler for destination failures.
func (m *Monitor) SetFailureHandler(handler FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = handler
}

// Start begins monitoring tracked destinations.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wg.Add(1)
	go m.monitorLoop()

	m.securityLog.LogSecurityEvent("health_monitor_started",
		slog.Duration("check_interval", m.checkInterval),
		slog.Int("max_failures", m.maxFailures))

	return nil
}

// Stop stops monitoring destinations.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.securityLog.LogSecurityEvent("health_monitor_stopped")
}

// Register adds a destination server to be monitored.
func (m *Monitor) Register(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destinations[serverName] = &DestinationHealth{
		ServerName:  serverName,
		State:       "unknown",
		LastCheck:   time.Now(),
		LastHealthy: time.Now(),
	}

	m.securityLog.LogSecurityEvent("destination_registered",
		slog.String("server_name", serverName))
}

// Unregister removes a destination from monitoring.
func (m *Monitor) Unregister(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.destinations, serverName)
	m.circuitState.DeleteLabelValues(serverName)
	m.checkFailures.DeleteLabelValues(serverName)

	m.securityLog.LogSecurityEvent("destination_unregistered",
		slog.String("server_name", serverName))
}

// GetHealth returns the health status for a destination.
func (m *Monitor) GetHealth(serverName string) (*DestinationHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, exists := m.destinations[serverName]
	if !exists {
		return nil, false
	}
	return health.Copy(), true
}

// ListHealth returns health status for all monitored destinations.
func (m *Monitor) ListHealth() []*DestinationHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*DestinationHealth, 0, len(m.destinations))
	for _, health := range m.destinations {
		list = append(list, health.Copy())
	}
	return list
}

func (m *Monitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkAllDestinations()
		}
	}
}

func (m *Monitor) checkAllDestinations() {
	m.mu.RLock()
	serverNames := make([]string, 0, len(m.destinations))
	for name := range m.destinations {
		serverNames = append(serverNames, name)
	}
	m.mu.RUnlock()

	for _, serverName := range serverNames {
		m.checkDestination(serverName)
	}
}

func (m *Monitor) checkDestination(serverName string) {
	m.mu.RLock()
	health, exists := m.destinations[serverName]
	m.mu.RUnlock()
	if !exists {
		return
	}

	state, _ := m.client.BreakerFor(serverName).State()

	health.mu.Lock()
	defer health.mu.Unlock()

	health.LastCheck = time.Now()

	switch state {
	case fedclient.CircuitClosed:
		health.State = "closed"
		health.FailureCount = 0
		health.LastHealthy = time.Now()
		m.circuitState.WithLabelValues(serverName).Set(0)
	case fedclient.CircuitHalfOpen:
		health.State = "half_open"
		m.circuitState.WithLabelValues(serverName).Set(1)
	case fedclient.CircuitOpen:
		health.FailureCount++
		health.State = "open"
		m.circuitState.WithLabelValues(serverName).Set(2)
		m.checkFailures.WithLabelValues(serverName).Inc()

		m.securityLog.LogSecurityEvent("destination_circuit_open",
			slog.String("server_name", serverName),
			slog.Int("failure_count", health.FailureCount))

		if health.FailureCount >= m.maxFailures {
			m.handleFailure(serverName, "circuit_open")
		}
	}
}

func (m *Monitor) handleFailure(serverName, reason string) {
	reasonMsg := fmt.Sprintf("%s: %s", reason, serverName)

	m.securityLog.LogSecurityEvent("destination_failure_detected",
		slog.String("server_name", serverName),
		slog.String("reason", reason),
		slog.Int("failure_count", m.maxFailures))

	if m.onFailure != nil {
		m.onFailure(serverName, reasonMsg)
	}
}

// GetStats returns monitoring statistics.
func (m *Monitor) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"monitored_destinations": len(m.destinations),
		"check_interval":         m.checkInterval.String(),
		"max_failures":           m.maxFailures,
	}

	healthyCount, unhealthyCount, unknownCount := 0, 0, 0
	for _, health := range m.destinations {
		health.mu.RLock()
		switch health.State {
		case "closed":
			healthyCount++
		case "open":
			unhealthyCount++
		default:
			unknownCount++
		}
		health.mu.RUnlock()
	}

	stats["healthy"] = healthyCount
	stats["unhealthy"] = unhealthyCount
	stats["unknown"] = unknownCount

	return stats
}

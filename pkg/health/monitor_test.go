package health

import (
	"testing"
	"time"

	"github.com/armorclaw/matrixcore/pkg/fedclient"
)

func testClient() *fedclient.Client {
	return fedclient.New(fedclient.Config{
		ServerName:       "local.org",
		CircuitThreshold: 2,
		CircuitTimeout:   time.Minute,
	})
}

func TestMonitorTracksCircuitOpen(t *testing.T) {
	client := testClient()
	m := NewMonitor(client, MonitorConfig{CheckInterval: time.Hour, MaxFailures: 1})
	m.Register("remote.org")

	breaker := client.BreakerFor("remote.org")
	breaker.RecordFailure()
	breaker.RecordFailure()

	var failed string
	m.SetFailureHandler(func(serverName, reason string) {
		failed = serverName
	})

	m.checkDestination("remote.org")

	health, ok := m.GetHealth("remote.org")
	if !ok {
		t.Fatal("expected destination to be registered")
	}
	if health.State != "open" {
		t.Fatalf("expected state open, got %s", health.State)
	}
	if failed != "remote.org" {
		t.Fatalf("expected failure handler to fire for remote.org, got %q", failed)
	}
}

func TestMonitorUnregisterRemovesDestination(t *testing.T) {
	client := testClient()
	m := NewMonitor(client, MonitorConfig{})
	m.Register("remote.org")
	m.Unregister("remote.org")

	if _, ok := m.GetHealth("remote.org"); ok {
		t.Fatal("expected destination to be removed")
	}
}

func TestMonitorStats(t *testing.T) {
	client := testClient()
	m := NewMonitor(client, MonitorConfig{})
	m.Register("a.org")
	m.Register("b.org")

	m.checkDestination("a.org")
	m.checkDestination("b.org")

	stats := m.GetStats()
	if stats["monitored_destinations"] != 2 {
		t.Fatalf("expected 2 monitored destinations, got %v", stats["monitored_destinations"])
	}
	if stats["healthy"] != 2 {
		t.Fatalf("expected 2 healthy destinations (breaker starts closed), got %v", stats["healthy"])
	}
}

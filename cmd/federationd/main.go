// Command federationd runs the matrixcore federation daemon: an
// inbound/outbound Matrix server-server API implementation serving
// spec.md's [EventStore], [RoomDagProcessor], [TransactionIngress] and
// [FederationClient] modules behind a single HTTP listener.
//
// Grounded on cmd/bridge/main.go's flag-parsing and subcommand dispatch
// idiom (flag.StringVar/BoolVar + flag.Args() for the command verb) and
// its runBridgeServer/signal-handling tail (stop subsystems in a fixed
// order, then cancel the root context).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/armorclaw/matrixcore/pkg/config"
	"github.com/armorclaw/matrixcore/pkg/eventbus"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/eventstore/memstore"
	"github.com/armorclaw/matrixcore/pkg/eventstore/sqlstore"
	"github.com/armorclaw/matrixcore/pkg/federationapi"
	"github.com/armorclaw/matrixcore/pkg/fedclient"
	"github.com/armorclaw/matrixcore/pkg/health"
	"github.com/armorclaw/matrixcore/pkg/keystore"
	"github.com/armorclaw/matrixcore/pkg/logger"
	"github.com/armorclaw/matrixcore/pkg/resolver"
	"github.com/armorclaw/matrixcore/pkg/roomdag"
	"github.com/armorclaw/matrixcore/pkg/txningress"
)

const version = "0.1.0"

// cliConfig mirrors cmd/bridge/main.go's cliConfig: flag.Parse results
// plus the positional command verb.
type cliConfig struct {
	configPath string
	listenAddr string
	serverName string
	keystoreDB string
	storageDSN string
	logLevel   string
	command    string
}

func parseFlags() cliConfig {
	var cfg cliConfig
	flag.StringVar(&cfg.configPath, "config", "", "path to config.toml (defaults to pkg/config.ConfigPaths())")
	flag.StringVar(&cfg.listenAddr, "listen", "", "federation HTTP listen address, overrides config")
	flag.StringVar(&cfg.serverName, "server-name", "", "this server's federation name, overrides config")
	flag.StringVar(&cfg.keystoreDB, "keystore-db", "", "path to the SQLCipher keystore database, overrides config")
	flag.StringVar(&cfg.storageDSN, "storage-dsn", "", "event storage DSN, overrides config")
	flag.StringVar(&cfg.logLevel, "log-level", "", "debug, info, warn, or error, overrides config")
	flag.Parse()

	cfg.command = "serve"
	if args := flag.Args(); len(args) > 0 {
		cfg.command = args[0]
	}
	return cfg
}

func main() {
	cliCfg := parseFlags()

	switch cliCfg.command {
	case "serve":
		runFederationServer(cliCfg)
	case "init":
		runInitCommand(cliCfg)
	case "validate":
		runValidateCommand(cliCfg)
	case "rotate-key":
		runRotateKeyCommand(cliCfg)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cliCfg.command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("federationd [flags] <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  serve        run the federation server (default)")
	fmt.Println("  init         write an example config.toml")
	fmt.Println("  validate     load and validate a config.toml, then exit")
	fmt.Println("  rotate-key   rotate this server's active signing key, then exit")
	fmt.Println("  help         show this message")
}

func runInitCommand(cliCfg cliConfig) {
	path := cliCfg.configPath
	if path == "" {
		path = "./config.toml"
	}
	if err := config.GenerateExampleConfig(path); err != nil {
		log.Fatalf("Failed to write example config: %v", err)
	}
	log.Printf("Wrote example configuration to %s", path)
}

func runValidateCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Configuration at %s is valid", cliCfg.configPath)
}

func runRotateKeyCommand(cliCfg cliConfig) {
	cfg := loadConfig(cliCfg)
	ks := openKeystore(cfg)
	defer ks.Close()

	next, err := ks.RotateSigningKey(cfg.KeyValidity())
	if err != nil {
		log.Fatalf("Failed to rotate signing key: %v", err)
	}
	log.Printf("Rotated to new signing key %s, valid until %s", next.KeyID, next.ValidUntil.Format(time.RFC3339))
}

func loadConfig(cliCfg cliConfig) *config.Config {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cliCfg.listenAddr != "" {
		cfg.Server.ListenAddr = cliCfg.listenAddr
	}
	if cliCfg.serverName != "" {
		cfg.Server.ServerName = cliCfg.serverName
	}
	if cliCfg.keystoreDB != "" {
		cfg.Keystore.DBPath = cliCfg.keystoreDB
	}
	if cliCfg.storageDSN != "" {
		cfg.Storage.DSN = cliCfg.storageDSN
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func openKeystore(cfg *config.Config) *keystore.KeyStore {
	var masterKey []byte
	if cfg.Keystore.MasterKey != "" {
		key, err := hex.DecodeString(cfg.Keystore.MasterKey)
		if err != nil {
			log.Fatalf("Invalid keystore master key (expected hex): %v", err)
		}
		masterKey = key
	}
	ks, err := keystore.New(keystore.Config{
		DBPath:     cfg.Keystore.DBPath,
		ServerName: cfg.Server.ServerName,
		MasterKey:  masterKey,
	})
	if err != nil {
		log.Fatalf("Failed to initialize keystore: %v", err)
	}
	if err := ks.Open(); err != nil {
		log.Fatalf("Failed to open keystore: %v", err)
	}
	return ks
}

func openEventStore(cfg *config.Config) eventstore.Store {
	switch cfg.Storage.Backend {
	case "memory":
		return memstore.New()
	case "sqlite", "":
		store, err := sqlstore.Open(context.Background(), sqlstore.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			log.Fatalf("Failed to open event store: %v", err)
		}
		return store
	default:
		log.Fatalf("Unknown storage backend %q (want \"memory\" or \"sqlite\")", cfg.Storage.Backend)
		return nil
	}
}

// runFederationServer wires every SPEC_FULL.md component together and
// blocks until SIGINT/SIGTERM, mirroring runBridgeServer's startup log,
// signal.Notify, and ordered-shutdown-goroutine structure.
func runFederationServer(cliCfg cliConfig) {
	log.Printf("Starting matrixcore federationd v%s", version)

	cfg := loadConfig(cliCfg)
	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	lg := logger.Global().WithComponent("federationd")

	lg.Info("configuration loaded", "server_name", cfg.Server.ServerName, "listen_addr", cfg.Server.ListenAddr, "storage_backend", cfg.Storage.Backend)

	lg.Info("opening keystore", "db_path", cfg.Keystore.DBPath)
	ks := openKeystore(cfg)
	defer ks.Close()
	if _, err := ks.ActiveSigningKey(); err != nil {
		log.Fatalf("Failed to mint/load signing key: %v", err)
	}

	store := openEventStore(cfg)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	dnsResolver := resolver.New(resolver.Config{})

	fedClient := fedclient.New(fedclient.Config{
		ServerName:       cfg.Server.ServerName,
		Signer:           ks,
		Resolver:         dnsResolver,
		RequestTimeout:   cfg.RequestTimeout(),
		DestinationBurst: cfg.Federation.DestinationBurst,
		DestinationRate:  rate.Limit(cfg.Federation.DestinationRate),
		CircuitThreshold: cfg.Federation.CircuitThreshold,
		CircuitTimeout:   cfg.CircuitTimeout(),
	})

	fetchKeys := fetchServerKeys(fedClient)

	bus := eventbus.NewEventBus(eventbus.DefaultConfig())
	if err := bus.Start(); err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}

	processor := roomdag.New(store, verifierKeyAdapter(ks, fetchKeys), roomdag.FedClientFetcher{Client: fedClient}, bus)

	txnHandler := txningress.NewHandler(
		processor,
		txningress.NewPresenceTracker(cfg.EDU.MaxPresenceUsers, bus),
		txningress.NewTypingTracker(bus),
		txningress.NewReceiptTracker(bus),
		txningress.NewDeviceMailboxes(cfg.EDU.DeviceMailboxDepth),
	)

	monitor := health.NewMonitor(fedClient, health.MonitorConfig{})
	registry := prometheus.NewRegistry()
	for _, c := range monitor.Collectors() {
		registry.MustRegister(c)
	}
	if err := monitor.Start(); err != nil {
		log.Fatalf("Failed to start health monitor: %v", err)
	}

	metricsServer := newMetricsServer(registry)

	fedServer := federationapi.NewServer(federationapi.ServerConfig{
		ListenAddr: cfg.Server.ListenAddr,
		ServerName: cfg.Server.ServerName,
	}, store, ks, txnHandler, fetchKeys)

	shutdownCtx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := fedServer.Start(); err != nil {
			lg.Error("federation server exited", "error", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("metrics server exited", "error", err)
		}
	}()

	lg.Info("matrixcore federationd is running", "listen_addr", cfg.Server.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		lg.Info("shutdown signal received", "signal", sig.String())

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()

		if err := fedServer.Stop(stopCtx); err != nil {
			lg.Error("error stopping federation server", "error", err)
		}
		if err := metricsServer.Shutdown(stopCtx); err != nil {
			lg.Error("error stopping metrics server", "error", err)
		}
		monitor.Stop()
		bus.Stop()

		cancel()
	}()

	<-shutdownCtx.Done()
	lg.Info("matrixcore federationd stopped")
}

// newMetricsServer exposes monitor/circuit-breaker gauges (pkg/health,
// pkg/fedclient) for scraping, separate from the federation API's own
// listener so a metrics scraper never needs X-Matrix credentials.
func newMetricsServer(registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &http.Server{Addr: ":9448", Handler: mux}
}

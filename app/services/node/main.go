package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/healthchain/ledger/app/services/node/handlers"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/registry"
	"github.com/healthchain/ledger/foundation/blockchain/state"
	"github.com/healthchain/ledger/foundation/blockchain/storage/disk"
	"github.com/healthchain/ledger/foundation/blockchain/storage/kvstore"
	"github.com/healthchain/ledger/foundation/blockchain/storage/memory"
	"github.com/healthchain/ledger/foundation/blockchain/worker"
	"github.com/healthchain/ledger/foundation/events"
	"github.com/healthchain/ledger/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			CorsOrigin      string        `conf:"default:*"`
		}
		State struct {
			NodeID         string   `conf:"help:empty generates a random id"`
			Difficulty     uint     `conf:"default:4"`
			Storage        string   `conf:"default:disk,help:memory|disk|badger"`
			DBPath         string   `conf:"default:zblock/"`
			RegistryFolder string   `conf:"default:zblock/accounts/"`
			BootstrapPeers []string `conf:"help:first peer is used to pull the chain"`
		}
		Consensus struct {
			QuietWindow  time.Duration `conf:"default:2s"`
			VoteTimeout  time.Duration `conf:"default:15s"`
			PollInterval time.Duration `conf:"default:100ms"`
		}
		Network struct {
			DialAttempts int           `conf:"default:3"`
			DialDelay    time.Duration `conf:"default:2s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "attestation ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Registry Support

	// The registry holds the accounts this node knows about. There is one
	// registry file per listening port.
	regPath := registry.PathFor(cfg.State.RegistryFolder, cfg.Web.PrivateHost)
	reg, err := registry.New(regPath)
	if err != nil {
		return fmt.Errorf("unable to load registry: %w", err)
	}

	log.Infow("startup", "status", "registry", "path", regPath, "accounts", reg.Len())

	// =========================================================================
	// Blockchain Support

	strg, err := openStorage(cfg.State.Storage, cfg.State.DBPath, cfg.Web.PrivateHost)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the node and manages the chain and provides
	// an API for application support.
	st, err := state.New(state.Config{
		NodeID:       cfg.State.NodeID,
		Host:         cfg.Web.PrivateHost,
		Storage:      strg,
		Registry:     reg,
		Difficulty:   cfg.State.Difficulty,
		QuietWindow:  cfg.Consensus.QuietWindow,
		VoteTimeout:  cfg.Consensus.VoteTimeout,
		DialAttempts: cfg.Network.DialAttempts,
		DialDelay:    cfg.Network.DialDelay,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Shutdown(); err != nil {
			log.Errorw("shutdown", "status", "state", "ERROR", err)
		}
	}()

	// A joining node pulls the chain and the accounts from the first
	// bootstrap peer before it takes part in gossip.
	if len(cfg.State.BootstrapPeers) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := st.Bootstrap(ctx, cfg.State.BootstrapPeers[0])
		cancel()

		if err != nil {
			log.Errorw("startup", "status", "bootstrap", "peer", cfg.State.BootstrapPeers[0], "ERROR", err)
		}
	}

	// The worker package implements the different workflows such as mining,
	// consensus polling and peer connections. The worker will register
	// itself with the state.
	worker.Run(st, cfg.Consensus.PollInterval, ev)

	for _, address := range cfg.State.BootstrapPeers {
		st.Worker.SignalConnect(address)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown:   shutdown,
		Log:        log,
		State:      st,
		Evts:       evts,
		CorsOrigin: cfg.Web.CorsOrigin,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the peer protocol.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
	})

	// Construct a server to service the requests against the mux. Websocket
	// connections clear the deadlines once they are upgraded.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for peer requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// openStorage constructs the block storage the configuration asks for. Each
// listening port gets its own location.
func openStorage(kind string, path string, host string) (database.Storage, error) {
	base := strings.TrimSuffix(registry.PathFor(path, host), ".json")

	switch kind {
	case "memory":
		return memory.New()
	case "disk":
		return disk.New(base + "-blocks")
	case "badger":
		return kvstore.New(base + "-badger")
	}

	return nil, fmt.Errorf("unknown storage %q", kind)
}

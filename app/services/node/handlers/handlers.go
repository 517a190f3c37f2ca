// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"
	"sync"

	"github.com/healthchain/ledger/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/healthchain/ledger/app/services/node/handlers/v1"
	"github.com/healthchain/ledger/business/web/mid"
	"github.com/healthchain/ledger/foundation/blockchain/state"
	"github.com/healthchain/ledger/foundation/events"
	"github.com/healthchain/ledger/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown   chan os.Signal
	Log        *zap.SugaredLogger
	State      *state.State
	Evts       *events.Events
	CorsOrigin string
}

// PublicMux constructs a http.Handler with the read only viewer routes.
func PublicMux(cfg MuxConfig) http.Handler {
	origin := cfg.CorsOrigin
	if origin == "" {
		origin = "*"
	}

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Cors(origin),
		mid.Panics(),
	)

	// Browsers preflight the viewer queries.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h)

	// Load the v1 routes.
	v1.PublicRoutes(app, v1.Config{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	})

	return app
}

// PrivateMux constructs a http.Handler serving the websocket protocol peers
// and gateways speak, plus the node status routes.
func PrivateMux(cfg MuxConfig) http.Handler {
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
		mid.Panics(),
	)

	v1.PrivateRoutes(app, v1.Config{
		Log:   cfg.Log,
		State: cfg.State,
	})

	return app
}

// DebugStandardLibraryMux registers all the debug routes from the standard library
// into a new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject a
// handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Register all the standard library debug endpoints.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service. The ledger gauges are published
// with the standard library counters under /debug/vars.
func DebugMux(build string, log *zap.SugaredLogger, st *state.State) http.Handler {
	mux := DebugStandardLibraryMux()

	publishLedger(st)

	// Register debug check endpoints.
	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		State: st,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}

// =============================================================================

// publishOnce guards the expvar names, they can only be published once per
// process.
var publishOnce sync.Once

// publishLedger exposes the node's chain height, network size and queue
// depth as expvar gauges.
func publishLedger(st *state.State) {
	publishOnce.Do(func() {
		expvar.Publish("ledger_height", expvar.Func(func() any {
			return st.Chain().Height()
		}))
		expvar.Publish("ledger_network", expvar.Func(func() any {
			return st.NetworkSize()
		}))
		expvar.Publish("ledger_queue", expvar.Func(func() any {
			return st.QueueStatus()
		}))
		expvar.Publish("ledger_outgoing", expvar.Func(func() any {
			return st.OutgoingCount()
		}))
	})
}

// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/healthchain/ledger/app/services/node/handlers/v1/private"
	"github.com/healthchain/ledger/app/services/node/handlers/v1/public"
	"github.com/healthchain/ledger/foundation/blockchain/state"
	"github.com/healthchain/ledger/foundation/events"
	"github.com/healthchain/ledger/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/chain", pbl.Chain)
	app.Handle(http.MethodGet, version, "/block/:height", pbl.Block)
	app.Handle(http.MethodGet, version, "/queue", pbl.Queue)
	app.Handle(http.MethodGet, version, "/patient/:key", pbl.PatientTransactions)
	app.Handle(http.MethodGet, version, "/tx/verify/:id/:hash", pbl.Verify)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, "", "/", prv.Connect)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/peers", prv.Peers)
}

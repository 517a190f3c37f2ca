// Package private maintains the group of handlers for node to node and
// gateway access.
package private

import (
	"context"
	"net/http"

	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/state"
	"github.com/healthchain/ledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Connect upgrades the request to the websocket protocol peers and clients
// speak and serves it until the connection closes.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// The upgrader already answered the request when it fails.
	conn, err := network.Upgrade(w, r)
	if err != nil {
		h.Log.Infow("connect", "traceid", v.TraceID, "ERROR", err)
		return nil
	}

	h.Log.Infow("connect", "traceid", v.TraceID, "conn", conn.ID, "remote", conn.Address)

	// Blocks until the remote side goes away.
	h.State.HandleConn(conn)

	h.Log.Infow("disconnect", "traceid", v.TraceID, "conn", conn.ID)

	return nil
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}

// Peers returns the peers this node has handshaken with.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.KnownPeers(), http.StatusOK)
}

// Package public maintains the group of handlers for viewer access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/healthchain/ledger/business/web/errs"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/state"
	"github.com/healthchain/ledger/foundation/events"
	"github.com/healthchain/ledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of viewer endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteJSON(evt); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Chain returns the full chain held by the node.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := network.ChainData{
		Chain: h.State.Chain().Blocks(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Queue returns the state of the pending transaction queue.
func (h Handlers) Queue(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueueStatus(), http.StatusOK)
}

// Block returns the block committed at the height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	param := web.Param(r, "height")

	height, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		return errs.BadRequest("height %q is not a number", param)
	}

	blocks := h.State.Chain().Blocks()
	if height >= uint64(len(blocks)) {
		return errs.NotFound("no block at height %d, tip is %d", height, len(blocks)-1)
	}

	return web.Respond(ctx, w, blocks[height], http.StatusOK)
}

// PatientTransactions returns the committed transactions about a patient.
func (h Handlers) PatientTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	patient := web.Param(r, "key")
	if !h.State.Registry().Exists(patient) {
		return errs.NotFound("patient %s is not registered with this node", patient)
	}

	resp := network.PatientTxs{
		Patient:      patient,
		Transactions: h.State.Chain().TransactionsOfPatient(patient),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Verify reports whether a transaction is committed with the record hash.
func (h Handlers) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	req := network.VerifyRequest{
		TxID:       web.Param(r, "id"),
		RecordHash: web.Param(r, "hash"),
	}

	return web.Respond(ctx, w, h.State.VerifyTransaction(req), http.StatusOK)
}

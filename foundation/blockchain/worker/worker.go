// Package worker implements mining, consensus polling, peer connections and
// chain syncing for the ledger node.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/state"
)

// DefaultPollInterval represents how often the node checks its vote rounds
// and its mining result.
const DefaultPollInterval = 100 * time.Millisecond

// maxConnectRequests represents the max number of pending connection requests
// before new ones are dropped.
const maxConnectRequests = 100

// maxSyncRequests represents the max number of pending sync requests. A node
// only needs one pull to catch up so extra requests are dropped.
const maxSyncRequests = 1

// =============================================================================

// Worker manages the background workflows of the node.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	ticker       *time.Ticker
	ctx          context.Context
	cancel       context.CancelFunc
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan bool
	connecting   chan string
	syncing      chan string
	evHandler    state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, pollInterval time.Duration, evHandler state.EventHandler) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:        st,
		ticker:       time.NewTicker(pollInterval),
		ctx:          ctx,
		cancel:       cancel,
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan bool, 1),
		connecting:   make(chan string, maxConnectRequests),
		syncing:      make(chan string, maxSyncRequests),
		evHandler:    ev,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.pollOperations,
		w.miningOperations,
		w.connectOperations,
		w.syncOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work. Connections that are
// already established are closed by the state.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel mining")
	w.SignalCancelMining()

	w.evHandler("worker: shutdown: cancel dialing")
	w.cancel()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	if !w.state.IsMiningAllowed() {
		w.evHandler("worker: SignalStartMining: mining turned off")
		return
	}

	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately.
func (w *Worker) SignalCancelMining() {
	select {
	case w.cancelMining <- true:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")
}

// SignalConnect asks for a connection to the peer at the address. If
// maxConnectRequests signals exist in the channel, the request is dropped.
func (w *Worker) SignalConnect(address string) {
	select {
	case w.connecting <- address:
		w.evHandler("worker: SignalConnect: %s: connect signaled", address)
	default:
		w.evHandler("worker: SignalConnect: %s: queue full, connection won't be made", address)
	}
}

// SignalSync asks for the chain to be pulled from the node at the address.
// If a sync is already pending the request is dropped.
func (w *Worker) SignalSync(address string) {
	select {
	case w.syncing <- address:
		w.evHandler("worker: SignalSync: %s: sync signaled", address)
	default:
		w.evHandler("worker: SignalSync: %s: sync already pending", address)
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

package worker

// syncOperations pulls the chain from a peer when the node learns it fell
// more than one block behind. One sync runs at a time.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case address := <-w.syncing:
			if !w.isShutdown() {
				w.runSyncOperation(address)
			}
		case <-w.shut:
			w.evHandler("worker: syncOperations: received shut signal")
			return
		}
	}
}

// runSyncOperation replaces the local chain with the peer's longer one.
func (w *Worker) runSyncOperation(address string) {
	w.evHandler("worker: runSyncOperation: %s: started", address)
	defer w.evHandler("worker: runSyncOperation: %s: completed", address)

	before := w.state.Chain().Height()

	if err := w.state.Sync(w.ctx, address); err != nil {
		w.evHandler("worker: runSyncOperation: %s: ERROR: %s", address, err)
		return
	}

	w.evHandler("worker: runSyncOperation: %s: height[%d->%d]", address, before, w.state.Chain().Height())
}

package worker

// connectOperations opens the outgoing peer connections that are requested.
// Each connection is served by its own G until it closes.
func (w *Worker) connectOperations() {
	w.evHandler("worker: connectOperations: G started")
	defer w.evHandler("worker: connectOperations: G completed")

	for {
		select {
		case address := <-w.connecting:
			if !w.isShutdown() {
				go w.runConnectOperation(address)
			}
		case <-w.shut:
			w.evHandler("worker: connectOperations: received shut signal")
			return
		}
	}
}

// runConnectOperation dials the peer and serves the connection.
func (w *Worker) runConnectOperation(address string) {
	w.evHandler("worker: runConnectOperation: %s: started", address)
	defer w.evHandler("worker: runConnectOperation: %s: completed", address)

	if err := w.state.Connect(w.ctx, address); err != nil {
		w.evHandler("worker: runConnectOperation: %s: ERROR: %s", address, err)
	}
}

package worker

// pollOperations periodically decides vote rounds and proposes mined blocks.
func (w *Worker) pollOperations() {
	w.evHandler("worker: pollOperations: G started")
	defer w.evHandler("worker: pollOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.state.Poll()
			}
		case <-w.shut:
			w.evHandler("worker: pollOperations: received shut signal")
			return
		}
	}
}

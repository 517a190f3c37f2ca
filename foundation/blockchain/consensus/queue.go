package consensus

import (
	"sync"

	"github.com/healthchain/ledger/foundation/blockchain/database"
)

// Item is a transaction waiting its turn along with the record it attests
// to. Client holds the connection the outcome must be reported to, if any.
type Item struct {
	Tx     database.Tx
	Record database.Record
	Client string
}

// QueueStatus describes the queue for clients.
type QueueStatus struct {
	Busy    bool     `json:"busy"`
	Current string   `json:"current,omitempty"`
	Pending []string `json:"pending"`
}

// Queue is a FIFO of transactions where exactly one item is current at a
// time.
type Queue struct {
	mu      sync.Mutex
	current *Item
	pending []Item
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push adds the item. If nothing is current the item becomes current and
// Push reports true. An item whose transaction is already queued is ignored.
func (q *Queue) Push(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.contains(item.Tx.ID) {
		return false
	}

	if q.current == nil {
		q.current = &item
		return true
	}

	q.pending = append(q.pending, item)
	return false
}

// Current returns the current item.
func (q *Queue) Current() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return Item{}, false
	}

	return *q.current, true
}

// Done completes the current item if it carries the specified transaction
// and promotes the next one. The new current item is returned.
func (q *Queue) Done(txID string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil || q.current.Tx.ID != txID {
		return Item{}, false
	}

	q.current = nil
	if len(q.pending) == 0 {
		return Item{}, false
	}

	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next

	return next, true
}

// Remove drops a pending item that is not current.
func (q *Queue) Remove(txID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.pending {
		if item.Tx.ID == txID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}

	return false
}

// Contains reports whether the transaction is current or pending.
func (q *Queue) Contains(txID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.contains(txID)
}

// Len returns the number of items including the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if q.current != nil {
		n++
	}

	return n
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := QueueStatus{
		Busy:    q.current != nil,
		Pending: []string{},
	}

	if q.current != nil {
		status.Current = q.current.Tx.ID
	}

	for _, item := range q.pending {
		status.Pending = append(status.Pending, item.Tx.ID)
	}

	return status
}

func (q *Queue) contains(txID string) bool {
	if q.current != nil && q.current.Tx.ID == txID {
		return true
	}

	for _, item := range q.pending {
		if item.Tx.ID == txID {
			return true
		}
	}

	return false
}

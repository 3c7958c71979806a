package bus

import "sync"

// KeyedQueue runs tasks of the same key one after another, in submission
// order, while tasks of different keys run concurrently.
type KeyedQueue struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

// NewKeyedQueue creates an empty queue.
func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{queues: make(map[string][]func())}
}

// Do schedules fn after every earlier task of key.
func (q *KeyedQueue) Do(key string, fn func()) {
	q.mu.Lock()
	pending, running := q.queues[key]
	q.queues[key] = append(pending, fn)
	q.mu.Unlock()

	if !running {
		q.wg.Add(1)
		go q.drain(key)
	}
}

func (q *KeyedQueue) drain(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		pending := q.queues[key]
		if len(pending) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		fn := pending[0]
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until every scheduled task has run.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}

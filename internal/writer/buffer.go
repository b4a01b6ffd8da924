package writer

import (
	"sync"
	"sync/atomic"
)

// ringBuffer is a thread-safe circular buffer of pending records.
// Overflow drops the oldest record so a slow store sheds the data
// least worth keeping, and every drop is counted.
type ringBuffer struct {
	mu       sync.RWMutex
	data     []pending
	head     int64 // next write position
	tail     int64 // oldest data position
	count    int64
	capacity int64

	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{
		data:     make([]pending, capacity),
		capacity: int64(capacity),
	}
}

// pushOverwrite adds a record, overwriting the oldest if full.
func (rb *ringBuffer) pushOverwrite(p pending) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = p
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// popN removes and returns up to n oldest records.
func (rb *ringBuffer) popN(n int) []pending {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > rb.count {
		count = rb.count
	}

	result := make([]pending, count)
	for i := int64(0); i < count; i++ {
		idx := (rb.tail + i) % rb.capacity
		result[i] = rb.data[idx]
		rb.data[idx] = pending{} // clear for GC
	}

	rb.tail += count
	rb.count -= count
	rb.popCount.Add(count)

	return result
}

// requeue returns unwritten records to the front of the buffer so
// they remain the oldest. Records that no longer fit are dropped
// oldest-first and counted, keeping overflow the only loss path.
func (rb *ringBuffer) requeue(batch []pending) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.capacity - rb.count
	if int64(len(batch)) > free {
		drop := int64(len(batch)) - free
		batch = batch[drop:]
		rb.dropCount.Add(drop)
	}
	for i := len(batch) - 1; i >= 0; i-- {
		rb.tail--
		idx := ((rb.tail % rb.capacity) + rb.capacity) % rb.capacity
		rb.data[idx] = batch[i]
		rb.count++
	}
}

func (rb *ringBuffer) len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

func (rb *ringBuffer) dropped() int64 {
	return rb.dropCount.Load()
}

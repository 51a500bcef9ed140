// Package notify buffers telemetry notifications between the BLE stack's
// callback goroutine and the tick loop that decodes them.
package notify

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/stepprobe/internal/device"
)

// MaxQueueSize caps the queue size to guard against misconfiguration.
const MaxQueueSize uint32 = 64 * 1024

// Notification is one payload copied out of the BLE callback.
type Notification struct {
	Data     []byte
	Received time.Time
}

// Stats counts queue traffic.
type Stats struct {
	Received uint64
	Dropped  uint64
	Drained  uint64
}

// Queue is a bounded multi-producer queue that overwrites the oldest
// notification when full, so the BLE callback never blocks.
type Queue struct {
	buffer mpmc.RichOverlappedRingBuffer[Notification]
	onDrop func(n uint32)

	received atomic.Uint64
	dropped  atomic.Uint64
	drained  atomic.Uint64
}

// NewQueue creates a queue holding up to size notifications. onDrop, if not nil,
// is called with the number of notifications overwritten by a push.
func NewQueue(size uint32, onDrop func(n uint32)) (*Queue, error) {
	if size == 0 {
		return nil, fmt.Errorf("notification queue size must be > 0")
	}
	if size > MaxQueueSize {
		return nil, fmt.Errorf("notification queue size %d exceeds maximum %d", size, MaxQueueSize)
	}
	return &Queue{
		buffer: mpmc.NewOverlappedRingBuffer[Notification](size),
		onDrop: onDrop,
	}, nil
}

// Push copies data into the queue.
func (q *Queue) Push(data []byte) error {
	n := Notification{Data: append([]byte(nil), data...), Received: time.Now()}
	overwrites, err := q.buffer.EnqueueM(n)
	if err != nil {
		return fmt.Errorf("notification enqueue failed: %w", err)
	}
	q.received.Add(1)
	if overwrites > 0 {
		q.dropped.Add(uint64(overwrites))
		if q.onDrop != nil {
			q.onDrop(overwrites)
		}
	}
	return nil
}

// Handler returns a device.NotificationHandler feeding this queue.
func (q *Queue) Handler() device.NotificationHandler {
	return func(data []byte) {
		_ = q.Push(data)
	}
}

// Drain removes every queued notification in arrival order, passing each to fn.
// Returns the number drained.
func (q *Queue) Drain(fn func(Notification)) int {
	n := 0
	for !q.buffer.IsEmpty() {
		rec, err := q.buffer.Dequeue()
		if err != nil {
			break
		}
		n++
		fn(rec)
	}
	q.drained.Add(uint64(n))
	return n
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	s := q.Stats()
	return int(s.Received - s.Dropped - s.Drained)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Received: q.received.Load(),
		Dropped:  q.dropped.Load(),
		Drained:  q.drained.Load(),
	}
}

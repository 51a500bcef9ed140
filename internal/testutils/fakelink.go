package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/srg/stepprobe/internal/device"
)

// ErrNoScriptedRead is returned by FakeLink.Read when nothing was queued for a characteristic.
var ErrNoScriptedRead = errors.New("no scripted read")

// WriteRecord is one write observed by FakeLink.
type WriteRecord struct {
	Char string
	Data []byte
}

// ReadRecord is one read observed by FakeLink.
type ReadRecord struct {
	Char string
}

type readResult struct {
	data []byte
	err  error
}

// FakeLink is a scripted device.Link. Reads are served from per-characteristic
// FIFO queues; a characteristic with a sticky value returns it whenever its queue
// is empty. Writes and reads are recorded in order. Safe for concurrent use.
type FakeLink struct {
	mu sync.Mutex

	address  string
	queued   map[string][]readResult
	sticky   map[string][]byte
	writeErr map[string]error
	handlers map[string]device.NotificationHandler

	// Block, when set, makes Read and Write wait for ctx to be done.
	Block bool

	writes []WriteRecord
	reads  []ReadRecord
	ops    []string
	closed bool
}

// NewFakeLink creates an empty FakeLink for address.
func NewFakeLink(address string) *FakeLink {
	return &FakeLink{
		address:  address,
		queued:   make(map[string][]readResult),
		sticky:   make(map[string][]byte),
		writeErr: make(map[string]error),
		handlers: make(map[string]device.NotificationHandler),
	}
}

// QueueRead queues a successful read result for char.
func (l *FakeLink) QueueRead(char string, data []byte) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := device.NormalizeUUID(char)
	l.queued[key] = append(l.queued[key], readResult{data: append([]byte(nil), data...)})
	return l
}

// QueueReadError queues a failing read for char.
func (l *FakeLink) QueueReadError(char string, err error) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := device.NormalizeUUID(char)
	l.queued[key] = append(l.queued[key], readResult{err: err})
	return l
}

// SetValue sets the value returned for char whenever no read is queued.
func (l *FakeLink) SetValue(char string, data []byte) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sticky[device.NormalizeUUID(char)] = append([]byte(nil), data...)
	return l
}

// FailWrites makes every write to char fail with err; nil clears it.
func (l *FakeLink) FailWrites(char string, err error) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := device.NormalizeUUID(char)
	if err == nil {
		delete(l.writeErr, key)
	} else {
		l.writeErr[key] = err
	}
	return l
}

func (l *FakeLink) Address() string {
	return l.address
}

func (l *FakeLink) Read(ctx context.Context, char string) ([]byte, error) {
	if l.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := device.NormalizeUUID(char)
	l.reads = append(l.reads, ReadRecord{Char: key})
	l.ops = append(l.ops, "read:"+key)

	if q := l.queued[key]; len(q) > 0 {
		l.queued[key] = q[1:]
		return q[0].data, q[0].err
	}
	if v, ok := l.sticky[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoScriptedRead, key)
}

func (l *FakeLink) Write(ctx context.Context, char string, data []byte) error {
	if l.Block {
		<-ctx.Done()
		return ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := device.NormalizeUUID(char)
	l.ops = append(l.ops, "write:"+key)
	if err := l.writeErr[key]; err != nil {
		return err
	}
	l.writes = append(l.writes, WriteRecord{Char: key, Data: append([]byte(nil), data...)})
	return nil
}

func (l *FakeLink) Subscribe(_ context.Context, char string, handler device.NotificationHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := device.NormalizeUUID(char)
	l.ops = append(l.ops, "subscribe:"+key)
	l.handlers[key] = handler
	return nil
}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Notify delivers a notification to the handler subscribed on char.
// Returns false if nothing is subscribed.
func (l *FakeLink) Notify(char string, data []byte) bool {
	l.mu.Lock()
	h := l.handlers[device.NormalizeUUID(char)]
	l.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Writes returns a copy of the recorded writes.
func (l *FakeLink) Writes() []WriteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WriteRecord(nil), l.writes...)
}

// Reads returns a copy of the recorded reads.
func (l *FakeLink) Reads() []ReadRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ReadRecord(nil), l.reads...)
}

// Ops returns every operation in order as "read:<uuid>", "write:<uuid>" or "subscribe:<uuid>".
func (l *FakeLink) Ops() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// ResetRecords clears the recorded operations.
func (l *FakeLink) ResetRecords() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = nil
	l.reads = nil
	l.ops = nil
}

// Closed reports whether Close was called.
func (l *FakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

package stream

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrRelayClosed is returned once the caller-facing sink stopped accepting
// bytes. The read loop must stop when it sees it.
var ErrRelayClosed = errors.New("output relay closed")

// Sink is the caller-facing output. Flush pushes buffered bytes to the client
// and is where a disconnected client usually surfaces.
type Sink interface {
	io.Writer
	Flush() error
}

// Relay forwards chunk values of the open output scope to a Sink, in arrival
// order, and keeps a copy of everything it forwarded.
type Relay struct {
	sink Sink

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	forwarded int
	dropped   int
	text      strings.Builder
}

func NewRelay(sink Sink) *Relay {
	return &Relay{sink: sink}
}

// OnChunk forwards rec.Value when open is true and drops it otherwise.
func (r *Relay) OnChunk(rec Record, open bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRelayClosed
	}
	if !open {
		r.dropped++
		return nil
	}
	if rec.Value == "" {
		return nil
	}

	if _, err := io.WriteString(r.sink, rec.Value); err != nil {
		r.closed = true
		return fmt.Errorf("%w: %v", ErrRelayClosed, err)
	}
	if err := r.sink.Flush(); err != nil {
		r.closed = true
		return fmt.Errorf("%w: %v", ErrRelayClosed, err)
	}
	r.forwarded++
	r.text.WriteString(rec.Value)
	return nil
}

// Close marks the relay closed and closes the sink if it is an io.Closer.
// Only the first call has an effect.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		if c, ok := r.sink.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (r *Relay) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

func (r *Relay) Forwarded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forwarded
}

func (r *Relay) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

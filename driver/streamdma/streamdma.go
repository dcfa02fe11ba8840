// Package streamdma implements a transfer engine on top of a byte
// stream such as a serial port. Each started channel is served by a
// goroutine that writes or reads one block per transfer and then
// calls the channel handler.
package streamdma

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"audiobus.dev/driver/dma"
)

// ErrPending is returned by Reload when the channel already has a
// transfer queued behind the current one.
var ErrPending = errors.New("streamdma: transfer already pending")

var errStopped = errors.New("streamdma: channel stopped")

type Engine struct {
	dma.Table

	rw io.ReadWriter
	// rmu and wmu serialize the channels sharing a direction.
	rmu, wmu sync.Mutex

	mu   sync.Mutex
	runs [dma.NumChannels]*run
}

// run is the lifetime of a channel between Start and Stop. Blocks
// are staged through buf so that a stopped channel never touches
// them again.
type run struct {
	next chan dma.Transfer
	stop chan struct{}
	// stopped is guarded by Engine.mu.
	stopped bool
	buf     []byte
}

func (r *run) halt() {
	r.stopped = true
	close(r.stop)
}

func (r *run) scratch(n int) []byte {
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	return r.buf[:n]
}

func New(rw io.ReadWriter) *Engine {
	return &Engine{rw: rw}
}

func (e *Engine) Start(ch dma.ChannelID, x dma.Transfer) error {
	if int(ch) >= dma.NumChannels {
		return fmt.Errorf("%w: %d", dma.ErrInvalidChannel, ch)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.runs[ch]; r != nil {
		r.halt()
	}
	r := &run{
		next: make(chan dma.Transfer, 1),
		stop: make(chan struct{}),
	}
	r.next <- x
	e.runs[ch] = r
	go e.serve(ch, r)
	return nil
}

// Reload queues the next transfer of a channel. It is meant to be
// called from the channel handler.
func (e *Engine) Reload(ch dma.ChannelID, x dma.Transfer) error {
	if int(ch) >= dma.NumChannels {
		return fmt.Errorf("%w: %d", dma.ErrInvalidChannel, ch)
	}
	e.mu.Lock()
	r := e.runs[ch]
	e.mu.Unlock()
	if r == nil {
		return fmt.Errorf("%w: %d", dma.ErrInactive, ch)
	}
	select {
	case r.next <- x:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrPending, ch)
	}
}

// Stop halts a channel without waiting for its goroutine. A transfer
// in progress completes on the stream but neither touches its block
// nor is reported.
func (e *Engine) Stop(ch dma.ChannelID) error {
	if int(ch) >= dma.NumChannels {
		return fmt.Errorf("%w: %d", dma.ErrInvalidChannel, ch)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.runs[ch]; r != nil {
		r.halt()
		e.runs[ch] = nil
	}
	return nil
}

// Close stops every channel and closes the stream if it is an
// io.Closer, releasing goroutines blocked on it.
func (e *Engine) Close() error {
	e.mu.Lock()
	for ch, r := range e.runs {
		if r != nil {
			r.halt()
			e.runs[ch] = nil
		}
	}
	e.mu.Unlock()
	if c, ok := e.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *Engine) serve(ch dma.ChannelID, r *run) {
	for {
		var x dma.Transfer
		select {
		case <-r.stop:
			return
		case x = <-r.next:
		}
		err := e.transfer(r, x)
		if errors.Is(err, errStopped) {
			return
		}
		e.mu.Lock()
		stopped := r.stopped
		e.mu.Unlock()
		if stopped {
			return
		}
		e.Interrupt(ch, err)
	}
}

// copyLive copies src to dst unless r is stopped.
func (e *Engine) copyLive(r *run, dst, src []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.stopped {
		return errStopped
	}
	copy(dst, src)
	return nil
}

func (e *Engine) transfer(r *run, x dma.Transfer) error {
	buf := r.scratch(len(x.Block))
	switch x.Dir {
	case dma.MemoryToPeripheral:
		if err := e.copyLive(r, buf, x.Block); err != nil {
			return err
		}
		e.wmu.Lock()
		defer e.wmu.Unlock()
		if _, err := e.rw.Write(buf); err != nil {
			return fmt.Errorf("streamdma: write: %w", err)
		}
		return nil
	case dma.PeripheralToMemory:
		e.rmu.Lock()
		_, err := io.ReadFull(e.rw, buf)
		e.rmu.Unlock()
		if err != nil {
			return fmt.Errorf("streamdma: read: %w", err)
		}
		return e.copyLive(r, x.Block, buf)
	default:
		return fmt.Errorf("streamdma: invalid direction %s", x.Dir)
	}
}

package i2s

import (
	"fmt"
	"log/slog"

	"audiobus.dev/driver/dma"
)

type stream struct {
	dir Dir
	ops streamOps
	ch  dma.ChannelID
	cfg Config

	state  State
	master bool
	// block is the block under transfer, non-nil while the engine is
	// armed.
	block []byte
	size  int
	// lastBlock marks a stream stopped by a Stop trigger.
	lastBlock bool
	queue     *Queue
	sem       *semaphore

	// last is the cached block repeated on transmit underruns.
	last     []byte
	lastSize int
	underrun bool

	// bound reports whether the completion handler is registered.
	bound bool
	// gen is advanced on every halt. Completions carrying an older
	// generation are stale.
	gen uint32
	log *slog.Logger
}

// streamOps is the direction specific behaviour of a stream.
type streamOps interface {
	// start acquires the first block and starts the engine.
	start(d *Device, s *stream) error
	// release frees the blocks held by a halted stream.
	release(d *Device, s *stream)
	// drop discards the queued blocks.
	drop(d *Device, s *stream)
	// complete advances the stream after a transfer.
	complete(d *Device, s *stream, err error)
}

func (s *stream) transfer(b []byte) dma.Transfer {
	dir := dma.PeripheralToMemory
	if s.dir == DirTX {
		dir = dma.MemoryToPeripheral
	}
	return dma.Transfer{Dir: dir, Block: b[:s.cfg.BlockSize]}
}

func sameBlock(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

type rxOps struct{}

func (rxOps) start(d *Device, s *stream) error {
	b, err := s.cfg.Pool.Alloc()
	if err != nil {
		d.stats.AllocFailures++
		return fmt.Errorf("%w: %w", ErrNoMemory, err)
	}
	s.block, s.size = b, s.cfg.BlockSize
	return d.dma.Start(s.ch, s.transfer(b))
}

func (rxOps) release(d *Device, s *stream) {
	if s.block != nil {
		s.cfg.Pool.Free(s.block)
		s.block, s.size = nil, 0
	}
}

func (rxOps) drop(d *Device, s *stream) {
	for {
		b, _, err := s.queue.Get()
		if err != nil {
			break
		}
		s.cfg.Pool.Free(b)
	}
	s.sem.reset()
}

func (rxOps) complete(d *Device, s *stream, err error) {
	if err != nil {
		s.log.Error("transfer failed", "err", err)
		s.state = Error
		d.shutdown(s)
		return
	}
	if s.state == Error {
		d.shutdown(s)
		return
	}
	filled := s.block
	b, err := s.cfg.Pool.Alloc()
	if err != nil {
		d.stats.AllocFailures++
		s.log.Error("block allocation failed", "err", err)
		s.state = Error
		d.shutdown(s)
		return
	}
	s.block = b
	if err := d.dma.Reload(s.ch, s.transfer(b)); err != nil {
		s.log.Error("reload failed", "err", err)
		s.cfg.Pool.Free(filled)
		s.state = Error
		d.shutdown(s)
		return
	}
	d.stats.RXBlocks++
	if err := s.queue.Put(filled, s.cfg.BlockSize); err != nil {
		s.cfg.Pool.Free(filled)
		if s.cfg.RXPolicy != OverrunDrop {
			s.log.Error("receive overrun", "queued", s.queue.Len())
			s.state = Error
			d.shutdown(s)
			return
		}
		d.stats.RXDropped++
	} else {
		s.sem.give()
	}
	if s.state == Stopping {
		s.log.Debug("drained")
		s.state = Ready
		d.shutdown(s)
	}
}

type txOps struct{}

func (txOps) start(d *Device, s *stream) error {
	if s.cfg.TXPolicy == UnderrunRepeatLast && s.last == nil {
		b, err := s.cfg.Pool.Alloc()
		if err != nil {
			d.stats.AllocFailures++
			return fmt.Errorf("silence block: %w: %w", ErrNoMemory, err)
		}
		clear(b[:s.cfg.BlockSize])
		s.last, s.lastSize = b, s.cfg.BlockSize
	}
	b, n, err := s.queue.Get()
	switch {
	case err == nil:
		s.underrun = false
		s.sem.give()
	case s.last != nil:
		b, n = s.last, s.lastSize
		s.underrun = true
	default:
		return err
	}
	s.block, s.size = b, n
	return d.dma.Start(s.ch, s.transfer(b))
}

func (txOps) release(d *Device, s *stream) {
	if s.block != nil {
		if !sameBlock(s.block, s.last) {
			s.cfg.Pool.Free(s.block)
		}
		s.block, s.size = nil, 0
	}
	if s.last != nil {
		s.cfg.Pool.Free(s.last)
		s.last, s.lastSize = nil, 0
	}
	s.underrun = false
}

func (txOps) drop(d *Device, s *stream) {
	n := 0
	for {
		b, _, err := s.queue.Get()
		if err != nil {
			break
		}
		s.cfg.Pool.Free(b)
		n++
	}
	for range n {
		s.sem.give()
	}
	if s.last != nil && s.block == nil {
		s.cfg.Pool.Free(s.last)
		s.last, s.lastSize = nil, 0
	}
}

func (txOps) complete(d *Device, s *stream, err error) {
	if err != nil {
		s.log.Error("transfer failed", "err", err)
		s.state = Error
		d.shutdown(s)
		return
	}
	sent, size := s.block, s.size
	s.block, s.size = nil, 0
	switch {
	case s.cfg.TXPolicy != UnderrunRepeatLast:
		s.cfg.Pool.Free(sent)
	case !s.underrun:
		if s.last != nil {
			s.cfg.Pool.Free(s.last)
		}
		s.last, s.lastSize = sent, size
	}
	d.stats.TXBlocks++
	if s.state == Error {
		d.shutdown(s)
		return
	}
	if s.lastBlock {
		s.state = Ready
		d.shutdown(s)
		return
	}
	b, n, err := s.queue.Get()
	switch {
	case err == nil:
		s.underrun = false
	case s.state == Stopping:
		s.log.Debug("drained")
		s.state = Ready
		d.shutdown(s)
		return
	case s.cfg.TXPolicy == UnderrunRepeatLast && s.last != nil:
		b, n = s.last, s.lastSize
		s.underrun = true
		d.stats.TXRepeated++
	default:
		s.log.Error("transmit underrun")
		s.state = Error
		d.shutdown(s)
		return
	}
	s.block, s.size = b, n
	if !s.underrun {
		s.sem.give()
	}
	if err := d.dma.Reload(s.ch, s.transfer(b)); err != nil {
		s.log.Error("reload failed", "err", err)
		s.state = Error
		d.shutdown(s)
	}
}

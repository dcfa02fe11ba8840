package dma

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Sim is a simulated transfer engine. Transfers complete only when
// Complete or Fail is called, or while Run is clocking the channels.
// Memory-to-peripheral transfers are appended to a simulated serial
// line which peripheral-to-memory transfers read from, so a transmit
// and a receive channel form a loopback.
type Sim struct {
	Table

	mu    sync.Mutex
	chans [NumChannels]simChannel
	line  [][]byte
}

type simChannel struct {
	active bool
	xfer   Transfer
	stats  ChannelStats
}

// ChannelStats counts the operations on a simulated channel.
type ChannelStats struct {
	Starts      int
	Reloads     int
	Stops       int
	Completions int
	Failures    int
}

func NewSim() *Sim {
	return new(Sim)
}

func (s *Sim) Start(ch ChannelID, x Transfer) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.chans[ch]
	c.active = true
	c.xfer = x
	c.stats.Starts++
	return nil
}

func (s *Sim) Reload(ch ChannelID, x Transfer) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.chans[ch]
	c.active = true
	c.xfer = x
	c.stats.Reloads++
	return nil
}

func (s *Sim) Stop(ch ChannelID) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.chans[ch]
	c.active = false
	c.xfer = Transfer{}
	c.stats.Stops++
	return nil
}

// Active returns the transfer in flight on ch.
func (s *Sim) Active(ch ChannelID) (Transfer, bool) {
	if !ch.valid() {
		return Transfer{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &s.chans[ch]
	return c.xfer, c.active
}

func (s *Sim) Stats(ch ChannelID) ChannelStats {
	if !ch.valid() {
		return ChannelStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chans[ch].stats
}

// Complete finishes the transfer in flight on ch and calls its
// handler.
func (s *Sim) Complete(ch ChannelID) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	s.mu.Lock()
	c := &s.chans[ch]
	if !c.active {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInactive, ch)
	}
	x := c.xfer
	switch x.Dir {
	case MemoryToPeripheral:
		s.line = append(s.line, bytes.Clone(x.Block))
	case PeripheralToMemory:
		if len(s.line) > 0 {
			n := copy(x.Block, s.line[0])
			clear(x.Block[n:])
			s.line = s.line[1:]
		} else {
			// An idle line reads as silence.
			clear(x.Block)
		}
	}
	c.stats.Completions++
	s.mu.Unlock()
	s.Interrupt(ch, nil)
	return nil
}

// Fail reports err as the outcome of the transfer in flight on ch.
func (s *Sim) Fail(ch ChannelID, err error) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	s.mu.Lock()
	c := &s.chans[ch]
	if !c.active {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInactive, ch)
	}
	c.stats.Failures++
	s.mu.Unlock()
	s.Interrupt(ch, err)
	return nil
}

// Inject queues data on the simulated line, to be read by the next
// peripheral-to-memory transfer.
func (s *Sim) Inject(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.line = append(s.line, bytes.Clone(data))
}

// Drain removes and returns the blocks pending on the line.
func (s *Sim) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.line
	s.line = nil
	return l
}

// Run completes the active transfers of all channels at the given
// block rate until ctx is done. Within a tick, transmit channels
// complete before receive channels.
func (s *Sim) Run(ctx context.Context, rate physic.Frequency) error {
	period := rate.Period()
	if period <= 0 {
		return fmt.Errorf("dma: invalid block rate %s", rate)
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		for _, dir := range []Direction{MemoryToPeripheral, PeripheralToMemory} {
			for ch := range ChannelID(NumChannels) {
				if x, ok := s.Active(ch); !ok || x.Dir != dir {
					continue
				}
				// The channel may be stopped by a handler of
				// this tick.
				_ = s.Complete(ch)
			}
		}
	}
}

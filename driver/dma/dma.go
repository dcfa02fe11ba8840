// package dma defines the transfer engine used by block streaming
// drivers: an engine moves one block at a time between memory and a
// peripheral and reports completion through a per-channel handler.
package dma

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// ChannelID identifies a transfer channel of a Controller.
type ChannelID uint8

const (
	// NumChannels is the number of channels tracked by a Table.
	NumChannels = 16

	// Sentinel for no channel.
	NoChannel ChannelID = 0xff
)

// Direction is the data direction of a transfer.
type Direction uint8

const (
	MemoryToPeripheral Direction = iota
	PeripheralToMemory
)

func (d Direction) String() string {
	switch d {
	case MemoryToPeripheral:
		return "mem->periph"
	case PeripheralToMemory:
		return "periph->mem"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Transfer describes the transfer of a single block. The block is
// owned by the engine from Start or Reload until the channel
// handler is called.
type Transfer struct {
	Dir   Direction
	Block []byte
}

// Handler is called in completion context when the current transfer
// of a channel finishes. A non-nil err reports a transfer error.
// Handlers must not block.
type Handler func(err error)

// Controller is a transfer engine.
type Controller interface {
	// Reserve allocates an unused channel.
	Reserve() (ChannelID, error)
	// SetInterrupt registers the completion handler of a channel.
	// A nil handler unregisters it.
	SetInterrupt(ch ChannelID, h Handler) error
	// Start configures the channel and starts the transfer.
	Start(ch ChannelID, x Transfer) error
	// Reload replaces the transfer target of the channel and starts
	// it. Reload is safe to call from the channel handler.
	Reload(ch ChannelID, x Transfer) error
	// Stop halts the channel. No handler call follows a completed
	// Stop for transfers started before it.
	Stop(ch ChannelID) error
}

var (
	ErrNoChannel      = errors.New("dma: no available channel")
	ErrInvalidChannel = errors.New("dma: invalid channel")
	ErrBusy           = errors.New("dma: channel interrupt already registered")
	ErrInactive       = errors.New("dma: channel not active")
)

// Table tracks channel reservations and completion handlers. Engine
// implementations embed it and call Interrupt from their completion
// context to reach the owner of a channel.
type Table struct {
	mu sync.Mutex
	// reserved tracks the bitset of reserved channels.
	reserved uint16
	handlers [NumChannels]Handler
}

func (t *Table) Reserve() (ChannelID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := bits.TrailingZeros16(^t.reserved)
	if ch >= NumChannels {
		return NoChannel, ErrNoChannel
	}
	t.reserved |= 0b1 << ch
	return ChannelID(ch), nil
}

// Release returns a reserved channel to the table.
func (t *Table) Release(ch ChannelID) {
	if !ch.valid() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved &^= 0b1 << ch
	t.handlers[ch] = nil
}

func (t *Table) SetInterrupt(ch ChannelID, h Handler) error {
	if !ch.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h != nil && t.handlers[ch] != nil {
		return fmt.Errorf("%w: %d", ErrBusy, ch)
	}
	t.handlers[ch] = h
	return nil
}

// Interrupt calls the handler registered for ch, if any, and reports
// whether one was called. The handler runs without the table lock
// held so that it may unregister itself.
func (t *Table) Interrupt(ch ChannelID, err error) bool {
	if !ch.valid() {
		return false
	}
	t.mu.Lock()
	h := t.handlers[ch]
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(err)
	return true
}

func (ch ChannelID) valid() bool {
	return int(ch) < NumChannels
}

// Package i2s implements the block streaming engine of an I2S
// peripheral driver.
//
// A Device owns a receive and a transmit stream. Each stream moves
// fixed-size blocks between a Pool and the peripheral through a
// transfer engine, double buffered: the completion handler of a
// transfer re-arms the engine with the next block before handing the
// finished one over. Application goroutines exchange blocks with the
// handlers through a bounded Queue per direction, throttled by a
// counting semaphore.
package i2s

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"audiobus.dev/driver/dma"
	"periph.io/x/conn/v3/physic"
)

// Dir selects a stream.
type Dir uint8

const (
	DirRX Dir = iota
	DirTX
	// DirBoth selects the full duplex pair.
	DirBoth
)

func (d Dir) String() string {
	switch d {
	case DirRX:
		return "rx"
	case DirTX:
		return "tx"
	case DirBoth:
		return "both"
	default:
		return fmt.Sprintf("Dir(%d)", uint8(d))
	}
}

// State is the state of a stream.
type State uint8

const (
	// NotReady streams have no valid configuration.
	NotReady State = iota
	// Ready streams are configured and idle.
	Ready
	Running
	// Stopping streams finish their pending blocks before going
	// Ready.
	Stopping
	// Error streams stopped on a fault and wait for a Prepare or
	// Drop trigger.
	Error
)

func (s State) String() string {
	switch s {
	case NotReady:
		return "not-ready"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Command is a trigger command.
type Command uint8

const (
	// Start arms the transfer engine with the first block.
	Start Command = iota
	// Stop halts the stream and discards its queued blocks.
	Stop
	// Drain halts the stream like Stop, or, with DrainGraceful,
	// lets it finish its queued blocks first.
	Drain
	// Drop halts the stream from any configured state and discards
	// its queued blocks.
	Drop
	// Prepare recovers a stream from the Error state.
	Prepare
)

func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Drain:
		return "drain"
	case Drop:
		return "drop"
	case Prepare:
		return "prepare"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Format is the serial data standard, optionally combined with
// FormatBitClockInv.
type Format uint8

const (
	FormatI2S Format = iota
	FormatPCMShort
	FormatPCMLong
	FormatLeftJustified
	FormatRightJustified

	formatDataMask Format = 0x07

	// FormatBitClockInv samples data on the falling bit clock edge.
	FormatBitClockInv Format = 1 << 4
)

// Options are configuration flags.
type Options uint8

const (
	OptBitClockSlave Options = 1 << iota
	OptFrameClockSlave
	// OptIOSwap swaps the data in and out pins.
	OptIOSwap
)

// OverrunPolicy selects what a receive stream does with a completed
// block when its queue is full.
type OverrunPolicy uint8

const (
	// OverrunBlock stops the stream with a fault.
	OverrunBlock OverrunPolicy = iota
	// OverrunDrop discards the block and keeps running.
	OverrunDrop
)

// UnderrunPolicy selects what a transmit stream does when its queue
// is empty at a completion.
type UnderrunPolicy uint8

const (
	// UnderrunBlock stops the stream with a fault.
	UnderrunBlock UnderrunPolicy = iota
	// UnderrunRepeatLast sends the last block again. A stream starts
	// with a block of silence as its last block.
	UnderrunRepeatLast
)

type DrainPolicy uint8

const (
	// DrainImmediate makes Drain behave like Stop.
	DrainImmediate DrainPolicy = iota
	// DrainGraceful makes Drain move a stream to Stopping. A
	// receive stream then stops after its next block, a transmit
	// stream once its queue is empty.
	DrainGraceful
)

// Pool is a fixed-size block allocator. Alloc must not block.
type Pool interface {
	Alloc() ([]byte, error)
	Free(b []byte)
	BlockSize() int
}

// Config is the configuration of a stream.
type Config struct {
	// FrameClock is the frame (sample) rate. Zero unconfigures the
	// stream.
	FrameClock physic.Frequency
	// WordSize is the number of bits per sample: 16, 24 or 32.
	WordSize int
	Channels int
	Format   Format
	Options  Options
	// BlockSize is the number of bytes moved per transfer. It may
	// not exceed the block size of Pool.
	BlockSize int
	Pool      Pool
	// Timeout bounds the wait of Read and Write. Zero never waits,
	// a negative timeout waits forever.
	Timeout     time.Duration
	RXPolicy    OverrunPolicy
	TXPolicy    UnderrunPolicy
	DrainPolicy DrainPolicy
}

func (c *Config) validate() error {
	switch c.WordSize {
	case 16, 24, 32:
	default:
		return fmt.Errorf("word size %d: %w", c.WordSize, ErrInvalidArgument)
	}
	if c.Format&formatDataMask > FormatRightJustified || c.Format&^(formatDataMask|FormatBitClockInv) != 0 {
		return fmt.Errorf("format %#x: %w", uint8(c.Format), ErrInvalidArgument)
	}
	if c.Channels < 1 {
		return fmt.Errorf("%d channels: %w", c.Channels, ErrInvalidArgument)
	}
	if c.FrameClock < 0 {
		return fmt.Errorf("frame clock %s: %w", c.FrameClock, ErrInvalidArgument)
	}
	if c.Pool == nil {
		return fmt.Errorf("no block pool: %w", ErrInvalidArgument)
	}
	if c.BlockSize <= 0 || c.BlockSize > c.Pool.BlockSize() {
		return fmt.Errorf("block size %d for pool blocks of %d: %w", c.BlockSize, c.Pool.BlockSize(), ErrInvalidArgument)
	}
	return nil
}

// DeviceConfig describes the collaborators of a Device.
type DeviceConfig struct {
	Peripheral Peripheral
	DMA        dma.Controller
	// RXBlocks and TXBlocks are the queue capacities. Zero means 4.
	RXBlocks, TXBlocks int
	// FullDuplex enables the DirBoth triggers.
	FullDuplex bool
	// KernelClock is the clock feeding the bit clock prescaler. Zero
	// leaves the prescaler alone.
	KernelClock physic.Frequency
	Logger      *slog.Logger
}

// Stats counts stream and fault events.
type Stats struct {
	RXBlocks      uint64
	TXBlocks      uint64
	RXDropped     uint64
	TXRepeated    uint64
	AllocFailures uint64
	// Interrupts counts error interrupts, and the remaining fields
	// the fault flags they reported.
	Interrupts  uint64
	Overruns    uint64
	Underruns   uint64
	FrameErrors uint64
}

const defaultBlocks = 4

// Device is the streaming engine of one I2S peripheral.
type Device struct {
	periph     Peripheral
	dma        dma.Controller
	kernel     physic.Frequency
	fullDuplex bool
	log        *slog.Logger

	// mu serializes triggers, configuration and completion handlers.
	mu     sync.Mutex
	rx, tx stream
	stats  Stats
}

// New creates a device with both streams NotReady, and reserves a
// transfer channel per direction.
func New(cfg DeviceConfig) (*Device, error) {
	if cfg.Peripheral == nil || cfg.DMA == nil {
		return nil, fmt.Errorf("i2s: missing peripheral or dma controller: %w", ErrInvalidArgument)
	}
	if cfg.RXBlocks < 0 || cfg.TXBlocks < 0 {
		return nil, fmt.Errorf("i2s: negative queue capacity: %w", ErrInvalidArgument)
	}
	rxBlocks, txBlocks := cfg.RXBlocks, cfg.TXBlocks
	if rxBlocks == 0 {
		rxBlocks = defaultBlocks
	}
	if txBlocks == 0 {
		txBlocks = defaultBlocks
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "i2s")
	rxCh, err := cfg.DMA.Reserve()
	if err != nil {
		return nil, fmt.Errorf("i2s: rx channel: %w", err)
	}
	txCh, err := cfg.DMA.Reserve()
	if err != nil {
		return nil, fmt.Errorf("i2s: tx channel: %w", err)
	}
	d := &Device{
		periph:     cfg.Peripheral,
		dma:        cfg.DMA,
		kernel:     cfg.KernelClock,
		fullDuplex: cfg.FullDuplex,
		log:        log,
	}
	d.rx = stream{
		dir:   DirRX,
		ops:   rxOps{},
		ch:    rxCh,
		queue: NewQueue(rxBlocks),
		sem:   newSemaphore(0, rxBlocks),
		log:   log.With("dir", DirRX),
	}
	d.tx = stream{
		dir:   DirTX,
		ops:   txOps{},
		ch:    txCh,
		queue: NewQueue(txBlocks),
		sem:   newSemaphore(txBlocks, txBlocks),
		log:   log.With("dir", DirTX),
	}
	return d, nil
}

func (d *Device) stream(dir Dir) *stream {
	if dir == DirRX {
		return &d.rx
	}
	return &d.tx
}

// pair returns the other stream of s.
func (d *Device) pair(s *stream) *stream {
	if s == &d.rx {
		return &d.tx
	}
	return &d.rx
}

// streams resolves a direction to the streams it covers.
func (d *Device) streams(op string, dir Dir) ([]*stream, error) {
	switch dir {
	case DirRX, DirTX:
		return []*stream{d.stream(dir)}, nil
	case DirBoth:
		if !d.fullDuplex {
			return nil, fmt.Errorf("i2s: %s: full duplex: %w", op, ErrNotSupported)
		}
		return []*stream{&d.rx, &d.tx}, nil
	default:
		return nil, fmt.Errorf("i2s: %s: direction %s: %w", op, dir, ErrInvalidArgument)
	}
}

// Channel returns the transfer channel of a stream.
func (d *Device) Channel(dir Dir) dma.ChannelID {
	if dir > DirTX {
		return dma.NoChannel
	}
	return d.stream(dir).ch
}

// Configure configures a stream, or both for DirBoth. A zero
// FrameClock returns the streams to NotReady and discards their
// queued blocks. Reconfiguring a Ready stream also discards its
// queued blocks.
func (d *Device) Configure(dir Dir, cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams, err := d.streams("configure", dir)
	if err != nil {
		return err
	}
	for _, s := range streams {
		if s.state != NotReady && s.state != Ready {
			return fmt.Errorf("i2s: configure %s in state %s: %w", s.dir, s.state, ErrInvalidState)
		}
	}
	if cfg.FrameClock == 0 {
		for _, s := range streams {
			if s.cfg.Pool != nil {
				s.ops.drop(d, s)
			}
			s.cfg = Config{}
			s.state = NotReady
			s.log.Debug("unconfigured")
		}
		return nil
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("i2s: configure %s: %w", dir, err)
	}
	master := cfg.Options&(OptBitClockSlave|OptFrameClockSlave) == 0
	if master && d.kernel != 0 {
		bit := BitClock(cfg.FrameClock, cfg.WordSize, cfg.Channels)
		linear, odd, err := Prescaler(d.kernel, bit)
		if err != nil {
			return err
		}
		if err := d.periph.SetPrescaler(linear, odd); err != nil {
			return fmt.Errorf("i2s: configure %s: prescaler: %w", dir, err)
		}
		d.log.Debug("prescaler", "bitclock", bit, "linear", linear, "odd", odd)
	}
	f := Framing{
		WordSize:         cfg.WordSize,
		Standard:         cfg.Format & formatDataMask,
		BitClockInverted: cfg.Format&FormatBitClockInv != 0,
		MasterClock:      !master,
		IOSwap:           cfg.Options&OptIOSwap != 0,
	}
	if err := d.periph.SetFormat(f); err != nil {
		return fmt.Errorf("i2s: configure %s: format: %w", dir, err)
	}
	for _, s := range streams {
		if s.cfg.Pool != nil {
			s.ops.drop(d, s)
		}
		s.cfg = cfg
		s.master = master
		s.state = Ready
		s.log.Debug("configured", "frameclock", cfg.FrameClock, "blocksize", cfg.BlockSize, "master", master)
	}
	return nil
}

// Read returns the oldest received block, waiting up to the
// configured timeout. The caller owns the block and returns it to
// the pool when done.
func (d *Device) Read() ([]byte, int, error) {
	s := &d.rx
	d.mu.Lock()
	state, timeout := s.state, s.cfg.Timeout
	d.mu.Unlock()
	switch state {
	case NotReady:
		return nil, 0, fmt.Errorf("i2s: read: %w", ErrNotReady)
	case Error:
		return nil, 0, fmt.Errorf("i2s: read: %w", ErrFault)
	}
	if err := s.sem.take(timeout); err != nil {
		return nil, 0, fmt.Errorf("i2s: read: %w", err)
	}
	b, n, err := s.queue.Get()
	if err != nil {
		return nil, 0, fmt.Errorf("i2s: read: %w", err)
	}
	return b, n, nil
}

// Write queues a block of size valid bytes for transmission, waiting
// up to the configured timeout for a free slot. The block must come
// from the configured pool; the stream frees it after transmission.
// Writes are accepted in the Ready and Running states.
func (d *Device) Write(block []byte, size int) error {
	s := &d.tx
	d.mu.Lock()
	state, cfg := s.state, s.cfg
	d.mu.Unlock()
	switch state {
	case Ready, Running:
	case NotReady:
		return fmt.Errorf("i2s: write: %w", ErrNotReady)
	case Error:
		return fmt.Errorf("i2s: write: %w", ErrFault)
	default:
		return fmt.Errorf("i2s: write in state %s: %w", state, ErrInvalidState)
	}
	if size < 0 || size > cfg.BlockSize || len(block) < cfg.BlockSize {
		return fmt.Errorf("i2s: write of %d bytes in block of %d: %w", size, len(block), ErrInvalidArgument)
	}
	if err := s.sem.take(cfg.Timeout); err != nil {
		return fmt.Errorf("i2s: write: %w", err)
	}
	if err := s.queue.Put(block, size); err != nil {
		s.sem.give()
		return fmt.Errorf("i2s: write: %w", err)
	}
	return nil
}

func (d *Device) State(dir Dir) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream(dir).state
}

// Queued returns the number of blocks waiting in the queue of a
// stream.
func (d *Device) Queued(dir Dir) int {
	return d.stream(dir).queue.Len()
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

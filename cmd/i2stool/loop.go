package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"audiobus.dev/capture"
	"audiobus.dev/driver/dma"
	"audiobus.dev/driver/i2s"
	"audiobus.dev/driver/streamdma"
	"audiobus.dev/slab"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type loopOptions struct {
	blocks    int
	blockSize int
	rate      physic.Frequency
	wordSize  int
	channels  int
	queue     int
	capture   string
	enablePin string
}

var loopFlags = loopOptions{rate: 48 * physic.KiloHertz}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Loop tagged blocks from TX to RX",
	Long: `Start both streams in full duplex, write a sequence of tagged blocks to TX
and verify that RX receives them complete and in order.

The transmit stream repeats its last block when the writer falls behind, so
RX may see repeated blocks and leading silence; both are skipped.`,
	RunE: runLoop,
}

func init() {
	f := loopCmd.Flags()
	f.IntVarP(&loopFlags.blocks, "blocks", "n", 1000, "Number of blocks to loop")
	f.IntVar(&loopFlags.blockSize, "block-size", 256, "Block size in bytes")
	f.Var(frequencyValue{&loopFlags.rate}, "rate", "Frame clock")
	f.IntVar(&loopFlags.wordSize, "word-size", 16, "Bits per sample")
	f.IntVar(&loopFlags.channels, "channels", 2, "Channels per frame")
	f.IntVar(&loopFlags.queue, "queue", 8, "Queue capacity per direction")
	f.StringVarP(&loopFlags.capture, "capture", "o", "", "Record received blocks to a capture file")
	f.StringVar(&loopFlags.enablePin, "enable-pin", "", "GPIO driving the codec enable line")
	rootCmd.AddCommand(loopCmd)
}

// frequencyValue adapts physic.Frequency to pflag.
type frequencyValue struct {
	*physic.Frequency
}

func (frequencyValue) Type() string {
	return "frequency"
}

func runLoop(cmd *cobra.Command, args []string) error {
	log := logger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := loopFlags
	if opts.enablePin != "" {
		pin, err := enableCodec(opts.enablePin)
		if err != nil {
			return err
		}
		defer pin.Out(gpio.Low)
	}
	var engine dma.Controller
	if portName != "" {
		e, err := streamdma.Open(portName, baudRate)
		if err != nil {
			return err
		}
		defer e.Close()
		engine = e
	}
	var rec *capture.Writer
	if opts.capture != "" {
		f, err := os.Create(opts.capture)
		if err != nil {
			return err
		}
		defer f.Close()
		rec, err = capture.NewWriter(f, capture.Header{
			Dir:        i2s.DirRX.String(),
			BlockSize:  opts.blockSize,
			FrameClock: opts.rate,
			WordSize:   opts.wordSize,
			Channels:   opts.channels,
		})
		if err != nil {
			return err
		}
	}
	r, err := loop(ctx, log, opts, engine, rec)
	if err != nil {
		return err
	}
	fmt.Printf("looped %d blocks in %s (%.0f blocks/s)\n", opts.blocks, r.elapsed.Round(time.Millisecond), float64(opts.blocks)/r.elapsed.Seconds())
	fmt.Printf("skipped: %d repeated, %d silent\n", r.repeats, r.silent)
	st := r.stats
	fmt.Printf("rx %d tx %d, tx repeats %d, rx dropped %d, alloc failures %d, faults %d\n",
		st.RXBlocks, st.TXBlocks, st.TXRepeated, st.RXDropped, st.AllocFailures, st.Interrupts)
	return nil
}

type loopReport struct {
	elapsed time.Duration
	repeats int
	silent  int
	stats   i2s.Stats
}

// loop runs a full duplex loopback over engine, or over a simulated
// engine clocked at the block rate if engine is nil.
func loop(ctx context.Context, log *slog.Logger, opts loopOptions, engine dma.Controller, rec *capture.Writer) (loopReport, error) {
	if opts.blocks <= 0 || opts.queue <= 0 {
		return loopReport{}, errors.New("block count and queue capacity must be positive")
	}
	if opts.blockSize < tagSize {
		return loopReport{}, fmt.Errorf("block size %d is below %d", opts.blockSize, tagSize)
	}
	pool, err := slab.New(opts.blockSize, 2*opts.queue+8)
	if err != nil {
		return loopReport{}, err
	}
	defer pool.Close()
	if err := pool.Pin(); err != nil {
		log.Warn("block memory not pinned", "err", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if engine == nil {
		sim := dma.NewSim()
		engine = sim
		rate := blockRate(opts.rate, opts.blockSize, opts.wordSize, opts.channels)
		log.Debug("simulated engine", "blockrate", rate)
		go sim.Run(ctx, rate)
	}
	dev, err := i2s.New(i2s.DeviceConfig{
		Peripheral: i2s.NewSimPeripheral(),
		DMA:        engine,
		RXBlocks:   opts.queue,
		TXBlocks:   opts.queue,
		FullDuplex: true,
		Logger:     log,
	})
	if err != nil {
		return loopReport{}, err
	}
	cfg := i2s.Config{
		FrameClock: opts.rate,
		WordSize:   opts.wordSize,
		Channels:   opts.channels,
		BlockSize:  opts.blockSize,
		Pool:       pool,
		Timeout:    time.Second,
		TXPolicy:   i2s.UnderrunRepeatLast,
	}
	if err := dev.Configure(i2s.DirBoth, cfg); err != nil {
		return loopReport{}, err
	}
	n := uint32(opts.blocks)
	// Prime the transmit queue so that the first blocks go out
	// back to back.
	var primed uint32
	for ; primed < min(n, uint32(opts.queue)); primed++ {
		if err := writeTagged(dev, pool, primed); err != nil {
			return loopReport{}, err
		}
	}
	start := time.Now()
	if err := dev.Trigger(i2s.DirBoth, i2s.Start); err != nil {
		return loopReport{}, err
	}
	wctx, wcancel := context.WithCancel(ctx)
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeBlocks(wctx, dev, pool, primed, n)
	}()
	v, err := readBlocks(ctx, dev, pool, n, rec)
	wcancel()
	if err != nil {
		// Release a writer waiting for a slot before the pool goes
		// away.
		dev.Trigger(i2s.DirBoth, i2s.Drop)
		<-writeErr
		return loopReport{}, err
	}
	elapsed := time.Since(start)
	if err := dev.Trigger(i2s.DirBoth, i2s.Stop); err != nil {
		return loopReport{}, err
	}
	if err := <-writeErr; err != nil {
		return loopReport{}, err
	}
	return loopReport{
		elapsed: elapsed,
		repeats: v.repeats,
		silent:  v.silent,
		stats:   dev.Stats(),
	}, nil
}

func writeTagged(dev *i2s.Device, pool *slab.Slab, seq uint32) error {
	b, err := pool.Alloc()
	if err != nil {
		return fmt.Errorf("block %d: %w", seq, err)
	}
	tagBlock(b, seq)
	if err := dev.Write(b, len(b)); err != nil {
		pool.Free(b)
		return fmt.Errorf("block %d: %w", seq, err)
	}
	return nil
}

func writeBlocks(ctx context.Context, dev *i2s.Device, pool *slab.Slab, from, to uint32) error {
	for seq := from; seq < to; seq++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := writeTagged(dev, pool, seq); err != nil {
			return err
		}
	}
	return nil
}

func readBlocks(ctx context.Context, dev *i2s.Device, pool *slab.Slab, n uint32, rec *capture.Writer) (*verifier, error) {
	v := new(verifier)
	for v.next < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, size, err := dev.Read()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", v.next, err)
		}
		fresh, err := v.check(b[:size])
		if fresh && rec != nil {
			if werr := rec.Write(b[:size], time.Now()); werr != nil && err == nil {
				err = werr
			}
		}
		pool.Free(b)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

const (
	blockMagic = 0x42533249 // "I2SB"
	tagSize    = 8
)

// tagBlock fills b with a block identified by seq.
func tagBlock(b []byte, seq uint32) {
	binary.LittleEndian.PutUint32(b, blockMagic)
	binary.LittleEndian.PutUint32(b[4:], seq)
	for i := tagSize; i < len(b); i++ {
		b[i] = pattern(seq, i)
	}
}

func pattern(seq uint32, i int) byte {
	return byte(seq*31 + uint32(i))
}

// parseBlock returns the sequence number of a tagged block. Untagged
// blocks such as silence report ok == false.
func parseBlock(b []byte) (seq uint32, ok bool, err error) {
	if len(b) < tagSize || binary.LittleEndian.Uint32(b) != blockMagic {
		return 0, false, nil
	}
	seq = binary.LittleEndian.Uint32(b[4:])
	for i := tagSize; i < len(b); i++ {
		if b[i] != pattern(seq, i) {
			return seq, true, fmt.Errorf("block %d: corrupt byte %d", seq, i)
		}
	}
	return seq, true, nil
}

// verifier checks that received blocks arrive in sequence.
type verifier struct {
	next    uint32
	repeats int
	silent  int
}

// check reports whether b is the next block in sequence. Silence and
// repeats of the previous block are counted and skipped.
func (v *verifier) check(b []byte) (bool, error) {
	seq, ok, err := parseBlock(b)
	switch {
	case err != nil:
		return false, err
	case !ok:
		v.silent++
		return false, nil
	case v.next > 0 && seq == v.next-1:
		v.repeats++
		return false, nil
	case seq != v.next:
		return false, fmt.Errorf("received block %d, want %d", seq, v.next)
	}
	v.next++
	return true, nil
}

// blockRate returns the rate at which blocks complete for a frame
// clock.
func blockRate(frame physic.Frequency, blockSize, wordSize, channels int) physic.Frequency {
	sample := 2
	if wordSize > 16 {
		// 24 bit samples travel in 32 bit words.
		sample = 4
	}
	frames := blockSize / (sample * max(channels, 1))
	if frames < 1 {
		frames = 1
	}
	return frame / physic.Frequency(frames)
}

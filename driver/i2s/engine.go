package i2s

import (
	"fmt"
)

// bind registers the completion handler of s for the current
// generation.
func (d *Device) bind(s *stream) error {
	gen := s.gen
	h := func(err error) {
		d.complete(s, gen, err)
	}
	if err := d.dma.SetInterrupt(s.ch, h); err != nil {
		return err
	}
	s.bound = true
	return nil
}

func (d *Device) complete(s *stream, gen uint32, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != s.gen || s.block == nil {
		// Completion of a halted stream.
		return
	}
	s.ops.complete(d, s, err)
}

// halt stops the engine of s, unregisters its handler and frees the
// blocks it holds.
func (d *Device) halt(s *stream) {
	if s.bound {
		if err := d.dma.Stop(s.ch); err != nil {
			s.log.Error("engine stop failed", "err", err)
		}
		if err := d.dma.SetInterrupt(s.ch, nil); err != nil {
			s.log.Error("handler unregister failed", "err", err)
		}
		s.bound = false
	}
	s.gen++
	s.ops.release(d, s)
}

// arm starts the engine of s.
func (d *Device) arm(s *stream) error {
	if err := d.bind(s); err != nil {
		return err
	}
	if err := s.ops.start(d, s); err != nil {
		d.halt(s)
		return err
	}
	return nil
}

// start starts a stream on its own.
func (d *Device) start(s *stream) error {
	if o := d.pair(s); o.bound {
		return fmt.Errorf("peripheral busy with %s: %w", o.dir, ErrInvalidState)
	}
	d.periph.SetTransferMode(transferMode(s.master, s.dir))
	if err := d.arm(s); err != nil {
		return err
	}
	d.periph.EnableDMARequest(s.dir)
	d.periph.EnableErrorInterrupts()
	d.periph.Enable()
	return nil
}

// disable stops a stream on its own. The peripheral is left alone if
// the stream was not armed.
func (d *Device) disable(s *stream) {
	armed := s.bound
	if armed {
		d.periph.DisableDMARequest(s.dir)
		d.periph.DisableErrorInterrupts()
	}
	d.halt(s)
	if armed {
		d.periph.Disable()
	}
	s.log.Debug("disabled", "state", s.state)
}

// coupled reports whether s runs as half of a full duplex pair.
func (d *Device) coupled(s *stream) bool {
	return s.bound && d.periph.TransferMode().FullDuplex()
}

// shutdown disables s from its completion handler. In full duplex
// mode a faulted stream takes its pair down with it.
func (d *Device) shutdown(s *stream) {
	if !d.periph.TransferMode().FullDuplex() {
		d.disable(s)
		return
	}
	o := d.pair(s)
	if s.state == Error {
		if o.state == Running || o.state == Stopping {
			o.state = Error
			o.log.Error("stopped by fault of pair", "pair", s.dir)
		}
		d.disableDuplex()
		return
	}
	if o.bound && o.state == Stopping {
		// The pair is disabled when its other half drains.
		d.periph.DisableDMARequest(s.dir)
		d.halt(s)
		return
	}
	if o.state == Running || o.state == Stopping {
		o.state = Ready
	}
	d.disableDuplex()
}

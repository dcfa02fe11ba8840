package i2s

import "fmt"

// startDuplex starts both streams over the peripheral in one of the
// full duplex transfer modes.
func (d *Device) startDuplex() error {
	if d.rx.master != d.tx.master {
		return fmt.Errorf("mismatched clock roles: %w", ErrInvalidArgument)
	}
	d.periph.SetTransferMode(transferMode(d.rx.master, DirBoth))
	if err := d.arm(&d.rx); err != nil {
		return err
	}
	if err := d.arm(&d.tx); err != nil {
		d.halt(&d.rx)
		return err
	}
	d.periph.EnableDMARequest(DirBoth)
	d.periph.EnableErrorInterrupts()
	d.periph.Enable()
	return nil
}

// disableDuplex stops both streams and frees every block they hold.
func (d *Device) disableDuplex() {
	armed := d.rx.bound || d.tx.bound
	if armed {
		d.periph.DisableDMARequest(DirBoth)
		d.periph.DisableErrorInterrupts()
	}
	d.halt(&d.rx)
	d.halt(&d.tx)
	if armed {
		d.periph.Disable()
	}
	d.log.Debug("full duplex disabled", "rx", d.rx.state, "tx", d.tx.state)
}

func (d *Device) dropDuplex() {
	d.rx.ops.drop(d, &d.rx)
	d.tx.ops.drop(d, &d.tx)
}

func (d *Device) triggerDuplex(cmd Command) error {
	rx, tx := &d.rx, &d.tx
	// require checks both streams before any side effect.
	require := func(ok func(State) bool) error {
		for _, s := range []*stream{rx, tx} {
			if !ok(s.state) {
				return d.reject(s, cmd)
			}
		}
		return nil
	}
	is := func(want State) func(State) bool {
		return func(s State) bool { return s == want }
	}
	switch cmd {
	case Start:
		if err := require(is(Ready)); err != nil {
			return err
		}
		if err := d.startDuplex(); err != nil {
			d.log.Error("full duplex start failed", "err", err)
			return fmt.Errorf("i2s: both start: %w", err)
		}
		for _, s := range []*stream{rx, tx} {
			s.state = Running
			s.lastBlock = false
		}
	case Stop:
		if err := require(is(Running)); err != nil {
			return err
		}
		d.disableDuplex()
		d.dropDuplex()
		for _, s := range []*stream{rx, tx} {
			s.state = Ready
			s.lastBlock = true
		}
	case Drain:
		if err := require(is(Running)); err != nil {
			return err
		}
		if rx.cfg.DrainPolicy == DrainGraceful && tx.cfg.DrainPolicy == DrainGraceful {
			rx.state, tx.state = Stopping, Stopping
			break
		}
		d.disableDuplex()
		d.dropDuplex()
		rx.state, tx.state = Ready, Ready
	case Drop:
		if err := require(func(s State) bool { return s != NotReady }); err != nil {
			return err
		}
		d.disableDuplex()
		d.dropDuplex()
		rx.state, tx.state = Ready, Ready
	case Prepare:
		if err := require(is(Error)); err != nil {
			return err
		}
		d.dropDuplex()
		rx.state, tx.state = Ready, Ready
	default:
		return fmt.Errorf("i2s: trigger %s: %w", cmd, ErrInvalidArgument)
	}
	d.log.Debug("trigger", "dir", DirBoth, "cmd", cmd, "rx", rx.state, "tx", tx.state)
	return nil
}

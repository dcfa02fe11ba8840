package i2s

// HandleFault is the error interrupt handler of the peripheral. It
// counts and clears the pending fault flags and stops the affected
// streams in the Error state: overruns stop the receive stream,
// underruns the transmit stream, and other faults every running
// stream. In full duplex mode any fault stops the pair.
func (d *Device) HandleFault() {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.periph.Faults()
	d.periph.ClearFaults(f)
	d.stats.Interrupts++
	if f&FaultOverrun != 0 {
		d.stats.Overruns++
	}
	if f&FaultUnderrun != 0 {
		d.stats.Underruns++
	}
	if f&FaultFrame != 0 {
		d.stats.FrameErrors++
	}
	d.log.Error("peripheral fault", "flags", f)

	duplex := d.periph.TransferMode().FullDuplex()
	var targets []*stream
	switch {
	case duplex, f&FaultFrame != 0, f == 0:
		targets = []*stream{&d.rx, &d.tx}
	default:
		if f&FaultOverrun != 0 {
			targets = append(targets, &d.rx)
		}
		if f&FaultUnderrun != 0 {
			targets = append(targets, &d.tx)
		}
	}
	faulted := false
	for _, s := range targets {
		if s.state == Running || s.state == Stopping {
			s.state = Error
			faulted = true
			if !duplex {
				d.disable(s)
			}
		}
	}
	if duplex && faulted {
		d.disableDuplex()
	}
}

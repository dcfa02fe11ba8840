package i2s

import "fmt"

// Trigger applies a command to a stream, or to the full duplex pair
// for DirBoth. A command issued in a state that does not allow it
// fails with ErrInvalidState and has no effect.
//
//	Start    Ready            -> Running
//	Stop     Running          -> Ready
//	Drain    Running          -> Ready, or Stopping with DrainGraceful
//	Drop     any but NotReady -> Ready
//	Prepare  Error            -> Ready
//
// Stop, Drain and Drop halt the engine and free the queued blocks
// before returning. A stream running as half of a full duplex pair
// only accepts Drop on its own, which halts the pair.
func (d *Device) Trigger(dir Dir, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch dir {
	case DirRX, DirTX:
		return d.trigger(d.stream(dir), cmd)
	case DirBoth:
		if !d.fullDuplex {
			return fmt.Errorf("i2s: trigger %s: full duplex: %w", cmd, ErrNotSupported)
		}
		return d.triggerDuplex(cmd)
	default:
		return fmt.Errorf("i2s: trigger %s: direction %s: %w", cmd, dir, ErrInvalidArgument)
	}
}

func (d *Device) reject(s *stream, cmd Command) error {
	s.log.Warn("trigger rejected", "cmd", cmd, "state", s.state)
	return fmt.Errorf("i2s: %s %s in state %s: %w", s.dir, cmd, s.state, ErrInvalidState)
}

func (d *Device) trigger(s *stream, cmd Command) error {
	switch cmd {
	case Start:
		if s.state != Ready {
			return d.reject(s, cmd)
		}
		if err := d.start(s); err != nil {
			s.log.Error("start failed", "err", err)
			return fmt.Errorf("i2s: %s start: %w", s.dir, err)
		}
		s.state = Running
		s.lastBlock = false
	case Stop, Drain:
		if s.state != Running || d.coupled(s) {
			return d.reject(s, cmd)
		}
		if cmd == Drain && s.cfg.DrainPolicy == DrainGraceful {
			s.state = Stopping
			break
		}
		d.disable(s)
		s.ops.drop(d, s)
		s.state = Ready
		s.lastBlock = cmd == Stop
	case Drop:
		if s.state == NotReady {
			return d.reject(s, cmd)
		}
		if d.coupled(s) {
			o := d.pair(s)
			d.disableDuplex()
			o.ops.drop(d, o)
			o.state = Ready
		} else {
			d.disable(s)
		}
		s.ops.drop(d, s)
		s.state = Ready
	case Prepare:
		if s.state != Error {
			return d.reject(s, cmd)
		}
		s.ops.drop(d, s)
		s.state = Ready
	default:
		return fmt.Errorf("i2s: %s trigger %s: %w", s.dir, cmd, ErrInvalidArgument)
	}
	s.log.Debug("trigger", "cmd", cmd, "state", s.state)
	return nil
}

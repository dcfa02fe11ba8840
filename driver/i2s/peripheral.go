package i2s

import (
	"fmt"
	"strings"
	"sync"
)

// TransferMode is the transfer mode register of the peripheral. The
// peripheral runs in one mode at a time, so a full duplex pair
// shares it.
type TransferMode uint8

const (
	ModeSlaveTX TransferMode = iota
	ModeSlaveRX
	ModeMasterTX
	ModeMasterRX
	ModeSlaveFullDuplex
	ModeMasterFullDuplex
)

func (m TransferMode) FullDuplex() bool {
	return m == ModeSlaveFullDuplex || m == ModeMasterFullDuplex
}

func (m TransferMode) String() string {
	switch m {
	case ModeSlaveTX:
		return "slave-tx"
	case ModeSlaveRX:
		return "slave-rx"
	case ModeMasterTX:
		return "master-tx"
	case ModeMasterRX:
		return "master-rx"
	case ModeSlaveFullDuplex:
		return "slave-full-duplex"
	case ModeMasterFullDuplex:
		return "master-full-duplex"
	default:
		return fmt.Sprintf("TransferMode(%d)", uint8(m))
	}
}

func transferMode(master bool, dir Dir) TransferMode {
	switch {
	case dir == DirBoth && master:
		return ModeMasterFullDuplex
	case dir == DirBoth:
		return ModeSlaveFullDuplex
	case dir == DirRX && master:
		return ModeMasterRX
	case dir == DirRX:
		return ModeSlaveRX
	case master:
		return ModeMasterTX
	default:
		return ModeSlaveTX
	}
}

// Fault is a set of peripheral error flags.
type Fault uint8

const (
	FaultOverrun Fault = 1 << iota
	FaultUnderrun
	FaultFrame
)

func (f Fault) String() string {
	if f == 0 {
		return "none"
	}
	var flags []string
	for _, n := range []struct {
		f    Fault
		name string
	}{{FaultOverrun, "ovr"}, {FaultUnderrun, "udr"}, {FaultFrame, "fre"}} {
		if f&n.f != 0 {
			flags = append(flags, n.name)
			f &^= n.f
		}
	}
	if f != 0 {
		flags = append(flags, fmt.Sprintf("%#x", uint8(f)))
	}
	return strings.Join(flags, "|")
}

// Framing is the serial data format programmed at configuration.
type Framing struct {
	WordSize         int
	Standard         Format
	BitClockInverted bool
	// MasterClock enables the master clock output.
	MasterClock bool
	IOSwap      bool
}

// Peripheral is the register interface of an I2S peripheral.
type Peripheral interface {
	SetTransferMode(m TransferMode)
	TransferMode() TransferMode
	SetFormat(f Framing) error
	// SetPrescaler programs the bit clock divider, 2*linear + odd.
	SetPrescaler(linear uint8, odd bool) error
	EnableDMARequest(dir Dir)
	DisableDMARequest(dir Dir)
	EnableErrorInterrupts()
	DisableErrorInterrupts()
	Enable()
	Disable()
	// Faults reports the pending error flags.
	Faults() Fault
	ClearFaults(f Fault)
}

// SimPeripheral is a Peripheral that records the register state for
// inspection.
type SimPeripheral struct {
	mu        sync.Mutex
	mode      TransferMode
	framing   Framing
	linear    uint8
	odd       bool
	requests  [2]bool
	errIRQ    bool
	enabled   bool
	faults    Fault
	enables   int
	disables  int
	formatErr error
}

func NewSimPeripheral() *SimPeripheral {
	return new(SimPeripheral)
}

func (p *SimPeripheral) SetTransferMode(m TransferMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
}

func (p *SimPeripheral) TransferMode() TransferMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *SimPeripheral) SetFormat(f Framing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.formatErr != nil {
		return p.formatErr
	}
	p.framing = f
	return nil
}

func (p *SimPeripheral) SetPrescaler(linear uint8, odd bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linear, p.odd = linear, odd
	return nil
}

func (p *SimPeripheral) EnableDMARequest(dir Dir) {
	p.setRequest(dir, true)
}

func (p *SimPeripheral) DisableDMARequest(dir Dir) {
	p.setRequest(dir, false)
}

func (p *SimPeripheral) setRequest(dir Dir, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch dir {
	case DirRX, DirTX:
		p.requests[dir] = on
	case DirBoth:
		p.requests = [2]bool{on, on}
	}
}

func (p *SimPeripheral) EnableErrorInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errIRQ = true
}

func (p *SimPeripheral) DisableErrorInterrupts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errIRQ = false
}

func (p *SimPeripheral) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
	p.enables++
}

func (p *SimPeripheral) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.disables++
}

func (p *SimPeripheral) Faults() Fault {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faults
}

func (p *SimPeripheral) ClearFaults(f Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults &^= f
}

// RaiseFault sets error flags, as the hardware does before raising
// its error interrupt.
func (p *SimPeripheral) RaiseFault(f Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults |= f
}

// FailFormat makes subsequent SetFormat calls return err.
func (p *SimPeripheral) FailFormat(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formatErr = err
}

func (p *SimPeripheral) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// DMARequest reports whether the data request line of a direction is
// enabled.
func (p *SimPeripheral) DMARequest(dir Dir) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dir > DirTX {
		return p.requests[DirRX] && p.requests[DirTX]
	}
	return p.requests[dir]
}

func (p *SimPeripheral) ErrorInterrupts() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errIRQ
}

func (p *SimPeripheral) Framing() Framing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framing
}

func (p *SimPeripheral) Prescaler() (linear uint8, odd bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linear, p.odd
}

// Cycles returns the number of Enable and Disable calls.
func (p *SimPeripheral) Cycles() (enables, disables int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enables, p.disables
}

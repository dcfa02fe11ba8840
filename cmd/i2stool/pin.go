package main

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// enableCodec drives the codec enable line high.
func enableCodec(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("enable pin %q: no such pin", name)
	}
	if err := p.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("enable pin %s: %w", name, err)
	}
	return p, nil
}

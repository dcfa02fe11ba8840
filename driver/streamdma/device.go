//go:build !tinygo

package streamdma

import (
	"errors"
	"runtime"

	"github.com/tarm/serial"
)

// Open returns an engine streaming over a serial port. An empty dev
// tries the usual USB serial adapters of the platform.
func Open(dev string, baud int) (*Engine, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyACM0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("streamdma: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baud}
		p, err := serial.OpenPort(c)
		if err == nil {
			return New(p), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

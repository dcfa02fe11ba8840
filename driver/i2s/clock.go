package i2s

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// BitClock returns the serial bit clock for a frame clock, word size
// and channel count.
func BitClock(frame physic.Frequency, wordSize, channels int) physic.Frequency {
	return frame * physic.Frequency(wordSize*channels)
}

// Prescaler computes the divider from the kernel clock to the bit
// clock. The peripheral divides by 2*linear + odd.
func Prescaler(kernel, bit physic.Frequency) (linear uint8, odd bool, err error) {
	if kernel <= 0 || bit <= 0 {
		return 0, false, fmt.Errorf("i2s: clock %s/%s: %w", kernel, bit, ErrInvalidArgument)
	}
	div := (kernel + bit/2) / bit
	l := div >> 1
	if l < 2 || l > 255 {
		return 0, false, fmt.Errorf("i2s: bit clock %s out of range for kernel clock %s: %w", bit, kernel, ErrInvalidArgument)
	}
	return uint8(l), div&1 == 1, nil
}

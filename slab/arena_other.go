//go:build !linux || tinygo

package slab

type arena struct {
	mem   []byte
	unmap func() error
	pin   func() error
}

func newArena(n int) (arena, error) {
	nop := func() error { return nil }
	return arena{
		mem:   make([]byte, n),
		unmap: nop,
		pin:   nop,
	}, nil
}

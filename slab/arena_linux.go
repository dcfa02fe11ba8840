//go:build linux && !tinygo

package slab

import (
	"golang.org/x/sys/unix"
)

type arena struct {
	mem   []byte
	unmap func() error
	pin   func() error
}

// newArena maps anonymous memory for the blocks, keeping them out of
// the garbage collected heap.
func newArena(n int) (arena, error) {
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return arena{}, err
	}
	return arena{
		mem:   mem,
		unmap: func() error { return unix.Munmap(mem) },
		pin:   func() error { return unix.Mlock(mem) },
	}, nil
}

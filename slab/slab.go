// Package slab implements a fixed-size block allocator. Alloc and
// Free never block or allocate, which makes them usable from
// transfer completion handlers.
package slab

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// ErrNoMemory is returned by Alloc when every block is in use.
var ErrNoMemory = errors.New("slab: no free blocks")

// Slab is a pool of equally sized blocks carved from one arena.
type Slab struct {
	mu     sync.Mutex
	arena  []byte
	size   int
	stride int
	// free is a stack of free block indices.
	free []int32
	used []bool

	unmap func() error
	pin   func() error
}

// New creates a slab of count blocks of blockSize bytes. Blocks are
// aligned to 4 bytes.
func New(blockSize, count int) (*Slab, error) {
	if blockSize <= 0 || count <= 0 {
		return nil, fmt.Errorf("slab: invalid geometry %dx%d", count, blockSize)
	}
	// Round up to a word multiple.
	stride := (blockSize + 3) &^ 3
	a, err := newArena(stride * count)
	if err != nil {
		return nil, fmt.Errorf("slab: %w", err)
	}
	s := &Slab{
		arena:  a.mem,
		size:   blockSize,
		stride: stride,
		free:   make([]int32, count),
		used:   make([]bool, count),
		unmap:  a.unmap,
		pin:    a.pin,
	}
	for i := range s.free {
		// Hand out low blocks first.
		s.free[i] = int32(count - 1 - i)
	}
	return s, nil
}

func (s *Slab) BlockSize() int {
	return s.size
}

// Len returns the total number of blocks.
func (s *Slab) Len() int {
	return len(s.used)
}

// Available returns the number of free blocks.
func (s *Slab) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}

// Alloc returns a free block. The block contents are undefined.
func (s *Slab) Alloc() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.free)
	if n == 0 {
		return nil, ErrNoMemory
	}
	idx := s.free[n-1]
	s.free = s.free[:n-1]
	s.used[idx] = true
	off := int(idx) * s.stride
	return s.arena[off : off+s.size : off+s.size], nil
}

// Free returns a block to the slab. Freeing a block not allocated
// from s panics.
func (s *Slab) Free(b []byte) {
	idx := s.index(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.used[idx] {
		panic("slab: double free")
	}
	s.used[idx] = false
	s.free = append(s.free, int32(idx))
}

func (s *Slab) index(b []byte) int {
	if cap(b) == 0 || len(s.arena) == 0 {
		panic("slab: free of foreign block")
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(s.arena)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p >= base+uintptr(len(s.arena)) {
		panic("slab: free of foreign block")
	}
	off := int(p - base)
	if off%s.stride != 0 {
		panic("slab: free of misaligned block")
	}
	return off / s.stride
}

// Pin locks the arena into physical memory where the platform
// supports it, so completion handlers never fault on block pages.
func (s *Slab) Pin() error {
	if err := s.pin(); err != nil {
		return fmt.Errorf("slab: pin: %w", err)
	}
	return nil
}

// Close releases the arena. Blocks must not be used after Close.
func (s *Slab) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = nil
	s.arena = nil
	return s.unmap()
}

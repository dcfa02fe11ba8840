package slab

import (
	"errors"
	"testing"
)

func TestAllocFree(t *testing.T) {
	s, err := New(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.BlockSize() != 10 || s.Len() != 3 {
		t.Fatalf("geometry %dx%d", s.Len(), s.BlockSize())
	}
	var blocks [][]byte
	for range 3 {
		b, err := s.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != 10 || cap(b) != 10 {
			t.Fatalf("block len %d cap %d", len(b), cap(b))
		}
		for i := range b {
			b[i] = 0xaa
		}
		blocks = append(blocks, b)
	}
	if _, err := s.Alloc(); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("alloc of exhausted slab returned %v", err)
	}
	s.Free(blocks[1])
	if got := s.Available(); got != 1 {
		t.Errorf("%d blocks available, want 1", got)
	}
	b, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if &b[0] != &blocks[1][0] {
		t.Error("freed block was not reused")
	}
	// Writes to one block never reach its neighbours.
	clear(b)
	for _, n := range []int{0, 2} {
		for _, v := range blocks[n] {
			if v != 0xaa {
				t.Fatalf("block %d overwritten", n)
			}
		}
	}
}

func TestFreeForeignBlock(t *testing.T) {
	s, err := New(8, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	tests := []struct {
		name  string
		block func() []byte
	}{
		{"foreign", func() []byte { return make([]byte, 8) }},
		{"misaligned", func() []byte {
			b, _ := s.Alloc()
			return b[1:]
		}},
		{"double", func() []byte {
			b, _ := s.Alloc()
			s.Free(b)
			return b
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := test.block()
			defer func() {
				if recover() == nil {
					t.Error("free did not panic")
				}
			}()
			s.Free(b)
		})
	}
}

func TestInvalidGeometry(t *testing.T) {
	if _, err := New(0, 4); err == nil {
		t.Error("zero block size accepted")
	}
	if _, err := New(4, 0); err == nil {
		t.Error("zero block count accepted")
	}
}

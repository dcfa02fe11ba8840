package i2s

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func TestQueueFIFO(t *testing.T) {
	const capacity = 3
	q := NewQueue(capacity)
	if q.Cap() != capacity {
		t.Fatalf("capacity %d, want %d", q.Cap(), capacity)
	}
	blocks := make([][]byte, 10)
	for i := range blocks {
		blocks[i] = []byte{byte(i)}
	}
	// Interleave puts and gets so the ring wraps several times.
	puts, gets := 0, 0
	for _, op := range "ppgpgppgggpppgpgg" {
		switch op {
		case 'p':
			if err := q.Put(blocks[puts], puts); err != nil {
				t.Fatalf("put %d: %v", puts, err)
			}
			puts++
		case 'g':
			b, n, err := q.Get()
			if err != nil {
				t.Fatalf("get %d: %v", gets, err)
			}
			if b[0] != byte(gets) || n != gets {
				t.Fatalf("get returned block %d size %d, want %d", b[0], n, gets)
			}
			gets++
		}
		if got := q.Len(); got != puts-gets {
			t.Fatalf("after %d puts and %d gets: len %d", puts, gets, got)
		}
	}
}

func TestQueueBounds(t *testing.T) {
	q := NewQueue(2)
	if _, _, err := q.Get(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("get of empty queue returned %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("failed get changed length to %d", q.Len())
	}
	a, b, c := []byte{1}, []byte{2}, []byte{3}
	q.Put(a, 1)
	q.Put(b, 2)
	if err := q.Put(c, 3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("put to full queue returned %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("failed put changed length to %d", q.Len())
	}
	for _, want := range [][]byte{a, b} {
		got, n, err := q.Get()
		if err != nil {
			t.Fatal(err)
		}
		if &got[0] != &want[0] || n != int(want[0]) {
			t.Errorf("got block %v size %d, want %v", got, n, want)
		}
	}
	if _, _, err := q.Get(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("get of drained queue returned %v", err)
	}
}

func TestSemaphore(t *testing.T) {
	s := newSemaphore(1, 2)
	s.give()
	s.give()
	if n := s.count(); n != 2 {
		t.Fatalf("count %d after saturating gives, want 2", n)
	}
	for range 2 {
		if err := s.take(0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.take(0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("non-blocking take returned %v", err)
	}
	start := time.Now()
	if err := s.take(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("timed take returned %v", err)
	}
	if d := time.Since(start); d < 10*time.Millisecond {
		t.Errorf("timed take returned after %v", d)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.give()
	}()
	if err := s.take(-1); err != nil {
		t.Fatal(err)
	}
	s.give()
	s.reset()
	if n := s.count(); n != 0 {
		t.Errorf("count %d after reset", n)
	}
}

func TestPrescaler(t *testing.T) {
	tests := []struct {
		kernel, bit physic.Frequency
		linear      uint8
		odd         bool
		fail        bool
	}{
		{49152 * physic.KiloHertz, BitClock(48*physic.KiloHertz, 16, 2), 16, false, false},
		{12288 * physic.KiloHertz, BitClock(48*physic.KiloHertz, 32, 2), 2, false, false},
		{13824 * physic.KiloHertz, 1536 * physic.KiloHertz, 4, true, false},
		// Rounds to the nearest divider.
		{10 * physic.MegaHertz, 1090 * physic.KiloHertz, 4, true, false},
		{3 * physic.MegaHertz, 1 * physic.MegaHertz, 0, false, true},
		{600 * physic.MegaHertz, 1 * physic.MegaHertz, 0, false, true},
		{0, 1 * physic.MegaHertz, 0, false, true},
	}
	for _, test := range tests {
		linear, odd, err := Prescaler(test.kernel, test.bit)
		if test.fail {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Prescaler(%s, %s) returned %v, want ErrInvalidArgument", test.kernel, test.bit, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Prescaler(%s, %s): %v", test.kernel, test.bit, err)
			continue
		}
		if linear != test.linear || odd != test.odd {
			t.Errorf("Prescaler(%s, %s) = %d, %v, want %d, %v", test.kernel, test.bit, linear, odd, test.linear, test.odd)
		}
	}
}

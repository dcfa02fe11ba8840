package i2s

import "time"

// semaphore is a counting semaphore with an upper limit. Tokens are
// the elements of a buffered channel.
type semaphore struct {
	tokens chan struct{}
}

func newSemaphore(initial, limit int) *semaphore {
	s := &semaphore{tokens: make(chan struct{}, limit)}
	for range initial {
		s.give()
	}
	return s
}

// give increments the count unless it is at the limit. It never
// blocks.
func (s *semaphore) give() {
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}

// take decrements the count, waiting up to timeout for it to become
// positive. A negative timeout waits forever, a zero timeout not at
// all.
func (s *semaphore) take(timeout time.Duration) error {
	select {
	case <-s.tokens:
		return nil
	default:
	}
	switch {
	case timeout == 0:
		return ErrTimeout
	case timeout < 0:
		<-s.tokens
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.tokens:
		return nil
	case <-t.C:
		return ErrTimeout
	}
}

// reset sets the count to zero.
func (s *semaphore) reset() {
	for {
		select {
		case <-s.tokens:
		default:
			return
		}
	}
}

func (s *semaphore) count() int {
	return len(s.tokens)
}

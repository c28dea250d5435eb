package cipher

import (
	"sync"
)

// DefaultWindowSize is the number of counters below the highest accepted
// counter that are still tracked.
const DefaultWindowSize = 448

const wordBits = 64

// Window is a sliding anti-replay filter over 64-bit counters
// (RFC 6479 style ring of bitmap words).
//
// A counter is accepted iff it is greater than high-size and has not been
// accepted before; accepting marks it and raises high if needed. Counter
// zero is a valid first counter. Window is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	size  uint64
	high  uint64
	words []uint64
}

// NewWindow creates a window tracking size counters. A size below one
// word is rounded up to 64.
func NewWindow(size int) *Window {
	if size < wordBits {
		size = wordBits
	}
	// One spare word beyond the window, so the word cleared on advance
	// never holds a live counter.
	words := (size+wordBits-1)/wordBits + 1
	return &Window{
		size:  uint64(size),
		words: make([]uint64, words),
	}
}

// Size returns the window width.
func (w *Window) Size() int {
	return int(w.size)
}

// Check reports whether counter would be accepted, without marking it.
func (w *Window) Check(counter uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.check(counter)
}

// CheckAndMark accepts counter if it passes Check and marks it as seen.
// Returns false for a replayed or too-old counter.
func (w *Window) CheckAndMark(counter uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.check(counter) {
		return false
	}
	if counter > w.high {
		w.advance(counter)
	}
	index := (counter / wordBits) % uint64(len(w.words))
	w.words[index] |= 1 << (counter % wordBits)
	return true
}

// High returns the highest accepted counter.
func (w *Window) High() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.high
}

func (w *Window) check(counter uint64) bool {
	if counter > w.high {
		return true
	}
	if w.high-counter >= w.size {
		return false
	}
	index := (counter / wordBits) % uint64(len(w.words))
	return w.words[index]&(1<<(counter%wordBits)) == 0
}

// advance clears the words between the current and the new high word.
func (w *Window) advance(counter uint64) {
	n := uint64(len(w.words))
	current := w.high / wordBits
	diff := counter/wordBits - current
	if diff > n {
		diff = n
	}
	for i := uint64(1); i <= diff; i++ {
		w.words[(current+i)%n] = 0
	}
	w.high = counter
}

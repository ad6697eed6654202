// Package match scores embedding samples against enrolled templates and
// smooths sensor noise with a rolling fusion buffer.
package match

import (
	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// RollingBuffer is a bounded FIFO of recent samples within one
// authentication session. The cached mean is recomputed eagerly on every
// push; past attempt outcomes are never re-scored.
type RollingBuffer struct {
	capacity int
	samples  []embedding.Vector
	mean     embedding.Vector
}

// NewRollingBuffer creates a buffer holding at most capacity samples.
func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingBuffer{capacity: capacity}
}

// Push appends v, evicts the oldest sample beyond capacity and recomputes
// the cached mean.
func (b *RollingBuffer) Push(v embedding.Vector) {
	b.samples = append(b.samples, v)
	if len(b.samples) > b.capacity {
		b.samples = b.samples[1:]
	}
	b.mean = embedding.Mean(b.samples)
}

// Mean returns the cached average, or nil while the buffer is empty.
func (b *RollingBuffer) Mean() embedding.Vector {
	return b.mean
}

// Len reports how many samples the buffer currently holds.
func (b *RollingBuffer) Len() int {
	return len(b.samples)
}

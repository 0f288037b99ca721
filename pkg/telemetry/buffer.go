package telemetry

import (
	"sync"
	"time"

	"github.com/tetherview/scadabridge/pkg/observability"
)

// Buffer is an age-bounded, chronologically ordered sample buffer. Mutation
// holds the lock only for the append and eviction; readers get copies or a
// frozen slice, never a live reference.
type Buffer struct {
	mu        sync.Mutex
	samples   []Sample
	retention time.Duration
}

// NewBuffer creates a buffer that retains samples for the given window.
func NewBuffer(retention time.Duration) *Buffer {
	return &Buffer{retention: retention}
}

// Append adds a sample and evicts anything older than the retention window.
// Timestamps must be monotonically non-decreasing; the collector is the only
// writer so this holds by construction.
func (b *Buffer) Append(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := s.Timestamp.Add(-b.retention)
	i := 0
	for i < len(b.samples) && b.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append([]Sample(nil), b.samples[i:]...)
	}
	b.samples = append(b.samples, s)
	observability.BufferSamples.Set(float64(len(b.samples)))
}

// Latest returns the most recent sample.
func (b *Buffer) Latest() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Len returns the current sample count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// History returns a frozen copy of the buffered samples, oldest first.
// lastN <= 0 returns everything; within <= 0 applies no extra age filter.
func (b *Buffer) History(lastN int, within time.Duration) []Sample {
	b.mu.Lock()
	frozen := append([]Sample(nil), b.samples...)
	b.mu.Unlock()

	if within > 0 && len(frozen) > 0 {
		cutoff := time.Now().Add(-within)
		i := 0
		for i < len(frozen) && frozen[i].Timestamp.Before(cutoff) {
			i++
		}
		frozen = frozen[i:]
	}
	if lastN > 0 && len(frozen) > lastN {
		frozen = frozen[len(frozen)-lastN:]
	}
	return frozen
}
